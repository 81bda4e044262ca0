package policy

import "fmt"

// DeniedError carries the decision that refused an installation. A
// denial is terminal for the attempt; resubmitting the same bundle
// against the same policy yields the same denial.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("policy: denied (%s): %s", e.Decision.Code, e.Decision.Reason)
}

// ApprovalRequiredError blocks an installation pending a human grant.
// Distinct from denial: the same bundle proceeds once approved.
type ApprovalRequiredError struct {
	Decision Decision
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("policy: approval required: %s", e.Decision.Reason)
}
