package usecase

import (
	"fmt"
	"strings"

	"github.com/emagero/second-check/internal/domain"
)

// EligibilityResult is the outcome of an eligibility check, mirroring the
// GET /verify/check-eligibility/{jobNo} response shape (spec §6).
type EligibilityResult struct {
	IsEligible   bool
	JobNo        string
	JobTitle     string
	CustomerName string
	Message      string
}

// EligibilityChecker determines whether a job qualifies for second-check
// (spec §4.1 step 4): eligible iff firstCheckDate is non-empty and
// secondCheckBy is empty.
type EligibilityChecker struct {
	ERP domain.ERPClient
}

// NewEligibilityChecker constructs an EligibilityChecker.
func NewEligibilityChecker(erp domain.ERPClient) *EligibilityChecker {
	return &EligibilityChecker{ERP: erp}
}

// Check fetches the ERP job-list entry for jobNo and evaluates eligibility.
// Returns domain.ErrNotFound if the ERP has no job-list entry for jobNo.
func (c *EligibilityChecker) Check(ctx domain.Context, jobNo string) (EligibilityResult, error) {
	entry, err := c.ERP.FetchJobListEntry(ctx, jobNo)
	if err != nil {
		return EligibilityResult{}, err
	}

	result := EligibilityResult{
		JobNo:        jobNo,
		JobTitle:     entry.JobTitle,
		CustomerName: entry.CustomerName,
	}

	if strings.TrimSpace(entry.FirstCheckDate) == "" {
		result.IsEligible = false
		result.Message = "First check has not been completed."
		return result, nil
	}
	if strings.TrimSpace(entry.SecondCheckBy) != "" {
		result.IsEligible = false
		result.Message = fmt.Sprintf("Job has already been second-checked by %s.", entry.SecondCheckBy)
		return result, nil
	}

	result.IsEligible = true
	result.Message = "Job qualifies for second check."
	return result, nil
}
