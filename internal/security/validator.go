package security

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxEmailLength    = 254
	MinPasswordLength = 8
	// bcrypt only reads the first 72 bytes.
	MaxPasswordBytes = 72
	MinNameLength    = 2
	MaxNameLength    = 100
)

var emailPattern = regexp.MustCompile("^[A-Za-z0-9.!#$%&'*+/=?^_`{|}~-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$")

// weakPasswordFragments are matched case-insensitively as substrings.
var weakPasswordFragments = []string{
	"password",
	"123456",
	"12345678",
	"qwerty",
	"letmein",
	"welcome",
	"admin123",
	"abc123",
	"iloveyou",
	"monkey",
	"dragon",
	"sunshine",
	"football",
	"master",
	"trustno1",
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegistrationInput struct {
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword *string `json:"confirm_password,omitempty"`
}

func IsValidEmail(email string) bool {
	return email != "" && len(email) <= MaxEmailLength && emailPattern.MatchString(email)
}

func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return invalid("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return invalid("email", "email must be at most 254 characters")
	}
	if !emailPattern.MatchString(email) {
		return invalid("email", "email format is invalid")
	}
	return nil
}

func ValidatePassword(password string) error {
	if password == "" {
		return invalid("password", "password is required")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return invalid("password", "password must be at least 8 characters")
	}
	if len(password) > MaxPasswordBytes {
		return invalid("password", "password must be at most 72 bytes")
	}
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			special = true
		}
	}
	switch {
	case !lower:
		return invalid("password", "password must contain a lowercase letter")
	case !upper:
		return invalid("password", "password must contain an uppercase letter")
	case !digit:
		return invalid("password", "password must contain a digit")
	case !special:
		return invalid("password", "password must contain a special character")
	}
	if IsCommonPassword(password) {
		return invalid("password", "password is too common")
	}
	return nil
}

func IsCommonPassword(password string) bool {
	lowered := strings.ToLower(password)
	for _, fragment := range weakPasswordFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}

// ValidateLoginInput checks shape only. Strength rules are not applied so that
// accounts created under older rules can still sign in.
func ValidateLoginInput(in LoginInput) error {
	if err := ValidateEmail(in.Email); err != nil {
		return err
	}
	if in.Password == "" {
		return invalid("password", "password is required")
	}
	return nil
}

func ValidateRegistrationInput(in RegistrationInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return invalid("name", "name is required")
	}
	if n := utf8.RuneCountInString(name); n < MinNameLength || n > MaxNameLength {
		return invalid("name", "name must be between 2 and 100 characters")
	}
	if err := ValidateEmail(in.Email); err != nil {
		return err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return err
	}
	if in.ConfirmPassword != nil && *in.ConfirmPassword != in.Password {
		return invalid("confirm_password", "passwords do not match")
	}
	return nil
}
