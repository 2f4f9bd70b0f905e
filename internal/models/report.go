package models

import "time"

type ReportOutcome string

const (
	OutcomeSuccess    ReportOutcome = "SUCCESS"
	OutcomeEscalation ReportOutcome = "ESCALATION"
)

// Prefix returns the message-id marker for the outcome.
func (o ReportOutcome) Prefix() string {
	if o == OutcomeSuccess {
		return "SUC_"
	}
	return "ESC_"
}

// Report is an immutable audit record of a terminal reconciliation outcome.
// Rows are appended to the messages store and never updated or deleted.
type Report struct {
	MessageID     string        `json:"message_id"`
	TransactionID string        `json:"transaction_id"`
	UserID        string        `json:"user_id,omitempty"`
	Report        string        `json:"report"`
	Outcome       ReportOutcome `json:"outcome"`
	CreatedAt     time.Time     `json:"created_at"`
}
