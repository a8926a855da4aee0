// Package schema validates client input before it reaches the call registry
// or the CRM store.
package schema

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog/log"

	"crm-call-service/internal/models"
)

// minPhoneLength is the shortest dialable number accepted.
const minPhoneLength = 5

var (
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrMissingName        = errors.New("name is required")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidStatus      = errors.New("invalid customer status")
	ErrEmptyText          = errors.New("text input cannot be empty")
	ErrUnsupported        = errors.New("unsupported input type")
)

// ValidationError names the field that failed.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks any supported input and returns a *ValidationError for the
// first invalid field.
func (v *Validator) Validate(input any) error {
	var err error
	switch in := input.(type) {
	case models.Contact:
		err = v.ValidateContact(in)
	case *models.Contact:
		err = v.ValidateContact(*in)
	case models.Customer:
		err = v.ValidateCustomer(in)
	case *models.Customer:
		err = v.ValidateCustomer(*in)
	default:
		err = fmt.Errorf("%w: %T", ErrUnsupported, input)
	}
	if err != nil {
		log.Debug().Err(err).Str("component", "schema").Msg("Input rejected")
	}
	return err
}

// ValidateContact checks a contact about to be dialed.
func (v *Validator) ValidateContact(c models.Contact) error {
	if err := ValidatePhoneNumber(c.PhoneNumber); err != nil {
		return &ValidationError{Field: "phoneNumber", Err: err}
	}
	return nil
}

// ValidateCustomer checks a customer record submitted for creation.
func (v *Validator) ValidateCustomer(c models.Customer) error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Err: ErrMissingName}
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return &ValidationError{Field: "email", Err: ErrInvalidEmail}
		}
	}
	if c.Phone != "" {
		if err := ValidatePhoneNumber(c.Phone); err != nil {
			return &ValidationError{Field: "phone", Err: err}
		}
	}
	switch c.Status {
	case "", "active", "inactive":
	default:
		return &ValidationError{Field: "status", Err: ErrInvalidStatus}
	}
	return nil
}

// ValidatePhoneNumber accepts digits with the usual separators and an
// optional leading plus, at least minPhoneLength characters long.
func ValidatePhoneNumber(number string) error {
	n := strings.TrimSpace(number)
	if len(n) < minPhoneLength {
		return ErrInvalidPhoneNumber
	}
	digits := 0
	for i, r := range n {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return ErrInvalidPhoneNumber
		}
	}
	if digits == 0 {
		return ErrInvalidPhoneNumber
	}
	return nil
}

// NormalizeText trims free text and rejects empty input.
func NormalizeText(text string) (string, error) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", ErrEmptyText
	}
	return t, nil
}
