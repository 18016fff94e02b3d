package exporter

// Outcome is the result of submitting one batch.
type Outcome int

const (
	// OutcomeSent means every part of the batch was accepted.
	OutcomeSent Outcome = iota
	// OutcomeNoData means the batch was empty and nothing was sent.
	OutcomeNoData
	// OutcomeFailed means the batch, or some part of it, was not delivered.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeNoData:
		return "no_data"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
