package schema

import (
	"errors"
	"testing"

	"crm-call-service/internal/models"
)

func TestValidatePhoneNumber(t *testing.T) {
	tests := []struct {
		number string
		valid  bool
	}{
		{"+15551234567", true},
		{"+1 (555) 123-4567", true},
		{"555.123.4567", true},
		{"12345", true},
		{"1234", false},
		{"", false},
		{"     ", false},
		{"+1-555-CALL-NOW", false},
		{"(---)", false},
		{"12+345", false},
	}

	for _, tt := range tests {
		err := ValidatePhoneNumber(tt.number)
		if tt.valid && err != nil {
			t.Errorf("%q: expected valid, got %v", tt.number, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidPhoneNumber) {
			t.Errorf("%q: expected ErrInvalidPhoneNumber, got %v", tt.number, err)
		}
	}
}

func TestValidator_Contact(t *testing.T) {
	v := New()

	if err := v.Validate(models.Contact{PhoneNumber: "+15551234567"}); err != nil {
		t.Errorf("expected valid contact, got %v", err)
	}

	err := v.Validate(&models.Contact{DisplayName: "Jane", PhoneNumber: "12"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "phoneNumber" {
		t.Errorf("expected field phoneNumber, got %s", verr.Field)
	}
	if !errors.Is(err, ErrInvalidPhoneNumber) {
		t.Errorf("expected ErrInvalidPhoneNumber to unwrap, got %v", err)
	}
}

func TestValidator_Customer(t *testing.T) {
	tests := []struct {
		name     string
		customer models.Customer
		field    string
	}{
		{"valid", models.Customer{Name: "Jane Smith", Email: "jane@example.com", Phone: "+1 (555) 987-6543"}, ""},
		{"name only", models.Customer{Name: "Jane"}, ""},
		{"missing name", models.Customer{Email: "jane@example.com"}, "name"},
		{"bad email", models.Customer{Name: "Jane", Email: "not-an-email"}, "email"},
		{"bad phone", models.Customer{Name: "Jane", Phone: "12"}, "phone"},
		{"bad status", models.Customer{Name: "Jane", Status: "vip"}, "status"},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.customer)
			if tt.field == "" {
				if err != nil {
					t.Errorf("expected valid, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidator_Unsupported(t *testing.T) {
	if err := New().Validate(42); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestNormalizeText(t *testing.T) {
	got, err := NormalizeText("  Acme Inc. sells anvils \n")
	if err != nil || got != "Acme Inc. sells anvils" {
		t.Errorf("expected trimmed text, got %q (%v)", got, err)
	}
	if _, err := NormalizeText(" \t\n"); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}
