package claims

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	icd10Pattern = regexp.MustCompile(`^[A-Z][0-9]{2}(\.[0-9A-Z]{1,4})?$`)
	cptPattern   = regexp.MustCompile(`^[0-9]{5}$`)
)

// ScrubIssue is one field-level problem found by the pre-submission scrub.
type ScrubIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ScrubError carries every issue the scrub found so the front end can
// highlight all of them at once.
type ScrubError struct {
	Issues []ScrubIssue
}

func (e *ScrubError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("claims: scrub failed: %s: %s", e.Issues[0].Field, e.Issues[0].Reason)
	}
	return fmt.Sprintf("claims: scrub failed with %d issues", len(e.Issues))
}

// Scrub checks a claim for the problems payers bounce immediately. A clean
// claim returns no issues and may move from draft to ready.
func Scrub(c *Claim) []ScrubIssue {
	var issues []ScrubIssue
	if strings.TrimSpace(c.PatientID) == "" {
		issues = append(issues, ScrubIssue{Field: "patient_id", Reason: "patient is required"})
	}
	if strings.TrimSpace(c.ProviderID) == "" {
		issues = append(issues, ScrubIssue{Field: "provider_id", Reason: "rendering provider is required"})
	}
	if strings.TrimSpace(c.PolicyID) == "" {
		issues = append(issues, ScrubIssue{Field: "policy_id", Reason: "insurance policy is required"})
	}
	if len(c.Diagnoses) == 0 {
		issues = append(issues, ScrubIssue{Field: "diagnoses", Reason: "at least one diagnosis code is required"})
	}
	for i, code := range c.Diagnoses {
		if !icd10Pattern.MatchString(code) {
			issues = append(issues, ScrubIssue{
				Field:  fmt.Sprintf("diagnoses[%d]", i),
				Reason: fmt.Sprintf("%q is not a valid ICD-10 code", code),
			})
		}
	}
	if len(c.Lines) == 0 {
		issues = append(issues, ScrubIssue{Field: "lines", Reason: "at least one service line is required"})
	}
	for i, line := range c.Lines {
		if !cptPattern.MatchString(line.CPTCode) {
			issues = append(issues, ScrubIssue{
				Field:  fmt.Sprintf("lines[%d].cpt_code", i),
				Reason: fmt.Sprintf("%q is not a valid CPT code", line.CPTCode),
			})
		}
		if line.Units <= 0 {
			issues = append(issues, ScrubIssue{
				Field:  fmt.Sprintf("lines[%d].units", i),
				Reason: "units must be positive",
			})
		}
		if line.ChargeCents <= 0 {
			issues = append(issues, ScrubIssue{
				Field:  fmt.Sprintf("lines[%d].charge_cents", i),
				Reason: "charge must be positive",
			})
		}
	}
	return issues
}
