package identity

import (
	"fmt"
	"strings"
)

const (
	maxNameLength     = 25
	maxUsernameLength = 25
	maxEmailLength    = 150
	minPasswordLength = 8
)

// Violation describes a single failed field constraint.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Violations aggregates field constraint failures. It unwraps to
// ErrInvalidInput so callers can classify it with errors.Is.
type Violations []Violation

func (v Violations) Error() string {
	parts := make([]string, 0, len(v))
	for _, item := range v {
		parts = append(parts, item.Field+": "+item.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (v Violations) Unwrap() error { return ErrInvalidInput }

// ValidateRegistration checks the registration fields against the constraints
// carried over from the account schema. Validation lives outside the entity
// so it can be tested without persistence.
func ValidateRegistration(in RegisterInput, maxPasswordLength int) error {
	var violations Violations
	if in.Name == "" {
		violations = append(violations, Violation{Field: "name", Message: "is required"})
	} else if len(in.Name) > maxNameLength {
		violations = append(violations, Violation{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)})
	}
	if in.Surname == "" {
		violations = append(violations, Violation{Field: "surname", Message: "is required"})
	} else if len(in.Surname) > maxNameLength {
		violations = append(violations, Violation{Field: "surname", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)})
	}
	if in.Username == "" {
		violations = append(violations, Violation{Field: "username", Message: "is required"})
	} else if len(in.Username) > maxUsernameLength {
		violations = append(violations, Violation{Field: "username", Message: fmt.Sprintf("must be at most %d characters", maxUsernameLength)})
	}
	switch {
	case in.Email == "":
		violations = append(violations, Violation{Field: "email", Message: "is required"})
	case len(in.Email) > maxEmailLength:
		violations = append(violations, Violation{Field: "email", Message: fmt.Sprintf("must be at most %d characters", maxEmailLength)})
	case !strings.Contains(in.Email, "@"):
		violations = append(violations, Violation{Field: "email", Message: "is not a valid address"})
	}
	if err := validatePassword(in.Password, maxPasswordLength); err != nil {
		violations = append(violations, Violation{Field: "password", Message: strings.TrimPrefix(err.Error(), "invalid input: ")})
	}
	if len(violations) > 0 {
		return violations
	}
	return nil
}

func validatePassword(password string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = DefaultHasherParams().MaxPasswordLength
	}
	if password == "" {
		return fmt.Errorf("%w: is required", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrInvalidInput, maxLength)
	}
	return nil
}
