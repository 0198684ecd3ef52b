package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Contact form limits.
const (
	MinNameLen    = 2
	MaxNameLen    = 100
	MaxEmailLen   = 254
	MaxSubjectLen = 200
	MinMessageLen = 10
	MaxMessageLen = 5000
)

// ContactForm is the raw public submission.
type ContactForm struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Normalize trims surrounding whitespace from every field.
func (f ContactForm) Normalize() ContactForm {
	return ContactForm{
		Name:    strings.TrimSpace(f.Name),
		Email:   strings.TrimSpace(f.Email),
		Subject: strings.TrimSpace(f.Subject),
		Message: strings.TrimSpace(f.Message),
	}
}

// Validate checks presence and length of each field. The returned error wraps
// ErrValidation.
func (f ContactForm) Validate() error {
	if n := utf8.RuneCountInString(f.Name); n < MinNameLen || n > MaxNameLen {
		return fmt.Errorf("%w: name must be between %d and %d characters", ErrValidation, MinNameLen, MaxNameLen)
	}
	if f.Email == "" || len(f.Email) > MaxEmailLen {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if addr, err := mail.ParseAddress(f.Email); err != nil || addr.Address != f.Email {
		return fmt.Errorf("%w: email is not a valid address", ErrValidation)
	}
	if utf8.RuneCountInString(f.Subject) > MaxSubjectLen {
		return fmt.Errorf("%w: subject must be at most %d characters", ErrValidation, MaxSubjectLen)
	}
	if n := utf8.RuneCountInString(f.Message); n < MinMessageLen || n > MaxMessageLen {
		return fmt.Errorf("%w: message must be between %d and %d characters", ErrValidation, MinMessageLen, MaxMessageLen)
	}
	return nil
}
