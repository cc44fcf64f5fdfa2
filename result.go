package parley

// Delivery failure reasons reported in DeliveryResult.Reason.
const (
	// ReasonAuthorityDenied: the validator rejected the envelope; no
	// mailbox was touched.
	ReasonAuthorityDenied = "authority_denied"
	// ReasonCapacityExceeded: every resolved target rejected the envelope
	// for capacity.
	ReasonCapacityExceeded = "capacity_exceeded"
	// ReasonPartialDelivery: some targets accepted, some rejected.
	ReasonPartialDelivery = "partial_delivery"
	// ReasonNoTargets: an all-agents broadcast resolved to an empty set.
	ReasonNoTargets = "no_targets"
)

// DeliveryResult is the per-target outcome of one Send. A partial
// broadcast failure is reported per target, never collapsed into a single
// boolean, so callers can tell "nobody got it" from "some got it".
type DeliveryResult struct {
	// EnvelopeID is the id stamped at admission.
	EnvelopeID string `json:"envelope_id"`
	// Success is true when every resolved target accepted the envelope.
	Success bool `json:"success"`
	// Reason classifies the failure when Success is false.
	Reason string `json:"reason,omitempty"`
	// Violations carries the validator's rule violations on denial.
	Violations []string `json:"violations,omitempty"`
	// PerTarget maps each resolved target to its enqueue outcome.
	PerTarget map[string]bool `json:"per_target,omitempty"`
	// SuccessfulCount is the number of targets that accepted.
	SuccessfulCount int `json:"successful_count"`
	// TotalTargets is the size of the resolved target set.
	TotalTargets int `json:"total_targets"`
}

// Rate returns the fraction of resolved targets that accepted the
// envelope. The divisor is always the resolved set size, so all-agents
// broadcasts report a real rate too. It is 0 when nothing was resolved.
func (r DeliveryResult) Rate() float64 {
	if r.TotalTargets == 0 {
		return 0
	}
	return float64(r.SuccessfulCount) / float64(r.TotalTargets)
}
