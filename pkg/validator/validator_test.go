package validator

import (
	"testing"
)

type enquiryPayload struct {
	Name     string `json:"name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Postcode string `json:"postcode" validate:"required,ukpostcode"`
	Consent  bool   `json:"consent" validate:"required,eq=true"`
}

func TestValidateStructPasses(t *testing.T) {
	payload := enquiryPayload{
		Name:     "J. Doe",
		Email:    "j@x.com",
		Postcode: "SW1A 1AA",
		Consent:  true,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected payload to validate, got %v", err)
	}
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	payload := enquiryPayload{
		Name:     "J",
		Email:    "not-an-email",
		Postcode: "SW1A 1AA",
		Consent:  true,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation failure")
	}

	failures, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].Field != "name" || failures[0].Tag != "min" {
		t.Fatalf("unexpected first failure: %+v", failures[0])
	}
	if failures[1].Field != "email" || failures[1].Tag != "email" {
		t.Fatalf("unexpected second failure: %+v", failures[1])
	}
}

func TestUKPostcodeRule(t *testing.T) {
	valid := []string{"SW1A 1AA", "m1 1ae", "B33 8TH", "CR26XH"}
	invalid := []string{"", "12345", "SW1A", "not a postcode"}

	for _, pc := range valid {
		payload := enquiryPayload{Name: "J. Doe", Email: "j@x.com", Postcode: pc, Consent: true}
		if err := ValidateStruct(payload); err != nil {
			t.Fatalf("expected postcode %q to validate, got %v", pc, err)
		}
	}

	for _, pc := range invalid {
		payload := enquiryPayload{Name: "J. Doe", Email: "j@x.com", Postcode: pc, Consent: true}
		if err := ValidateStruct(payload); err == nil {
			t.Fatalf("expected postcode %q to fail validation", pc)
		}
	}
}

func TestConsentMustBeTrue(t *testing.T) {
	payload := enquiryPayload{Name: "J. Doe", Email: "j@x.com", Postcode: "SW1A 1AA", Consent: false}
	if err := ValidateStruct(payload); err == nil {
		t.Fatal("expected missing consent to fail validation")
	}
}
