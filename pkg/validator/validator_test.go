package validator

import (
	"errors"
	"testing"
)

type timelineInput struct {
	Cadence  string `json:"cadence" validate:"required,oneof=yearly monthly weekly daily hourly minute"`
	Duration int    `json:"duration" validate:"required,min=1"`
}

func TestValidateStructPasses(t *testing.T) {
	err := ValidateStruct(timelineInput{Cadence: "weekly", Duration: 12})
	if err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(timelineInput{Cadence: "fortnightly", Duration: 0})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	var failures ValidationErrors
	if !errors.As(err, &failures) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(failures) != 2 {
		t.Fatalf("expected two failures, got %d: %v", len(failures), failures)
	}
	if failures[0].Field != "cadence" {
		t.Fatalf("expected json tag name, got %s", failures[0].Field)
	}
}
