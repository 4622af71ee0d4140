package service

import (
	"context"
	"encoding/json"
	"fmt"

	"taxdesk/internal/filing/models"
)

// requiredSections must be present in the filing payload before it can be
// marked ready.
var requiredSections = []string{"personalInfo", "incomeDetails", "taxComputation"}

// DefaultChecker enforces the entry prerequisites for filing: valid taxpayer
// identifiers and a structurally complete return payload.
type DefaultChecker struct{}

func (DefaultChecker) Check(_ context.Context, rec *models.FilingRecord) error {
	if !models.ValidPAN(rec.TaxpayerPAN) {
		return fmt.Errorf("malformed PAN")
	}
	if !models.ValidAssessmentYear(rec.AssessmentYear) {
		return fmt.Errorf("malformed assessment year")
	}
	if len(rec.Payload) == 0 {
		return fmt.Errorf("filing payload is empty")
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return fmt.Errorf("filing payload is not a JSON object: %w", err)
	}
	for _, section := range requiredSections {
		raw, ok := doc[section]
		if !ok || string(raw) == "null" {
			return fmt.Errorf("missing section %q", section)
		}
	}
	return nil
}
