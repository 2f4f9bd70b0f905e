package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxnPending    TransactionStatus = "pending"
	TxnInitiated  TransactionStatus = "initiated"
	TxnProcessing TransactionStatus = "processing"
	TxnCompleted  TransactionStatus = "completed"
	TxnSettled    TransactionStatus = "settled"
	TxnFailed     TransactionStatus = "failed"
)

// SettlementDone is the terminal value of the settlement marker: the retry's
// amount has been credited into the wallet and must never be credited again.
const SettlementDone = "DONE"

// StatusSlots is the fixed depth of a transaction's status history.
const StatusSlots = 4

const retryPrefix = "RT"

type Transaction struct {
	ID                      string           `json:"transaction_id"`
	UserID                  string           `json:"user_id"`
	Amount                  decimal.Decimal  `json:"amount"`
	Type                    string           `json:"transaction_type,omitempty"`
	RecipientType           string           `json:"recipient_type,omitempty"`
	RecipientAccountID      string           `json:"recipient_account_id,omitempty"`
	RecipientBankOrEwallet  string           `json:"recipient_bank_or_ewallet,omitempty"`
	DeviceID                string           `json:"device_id,omitempty"`
	LocationCoordinates     string           `json:"location_coordinates,omitempty"`
	TimestampInitiated      time.Time        `json:"timestamp_initiated"`
	Statuses                [StatusSlots]*TransactionStatus `json:"statuses"`
	StatusTimestamps        [StatusSlots]*time.Time         `json:"status_timestamps"`
	ExpectedCompletionTime  *time.Time       `json:"expected_completion_time,omitempty"`
	NetworkLatencySeconds   decimal.Decimal  `json:"network_latency_seconds"`
	IsFloatingCash          bool             `json:"is_floating_cash"`
	FloatingDurationMinutes int              `json:"floating_duration_minutes"`
	IsFraudulentAttempt     bool             `json:"is_fraudulent_attempt"`
	IsCancellation          bool             `json:"is_cancellation"`
	IsRetrySuccessful       bool             `json:"is_retry_successful"`
	ManualEscalationNeeded  bool             `json:"manual_escalation_needed"`
	// SettlementMarker is nil until the row is reconciled into the wallet,
	// then SettlementDone. Other values mean "not applicable".
	SettlementMarker *string `json:"transaction_types,omitempty"`
}

// EffectiveStatus scans the status history from the highest slot down and
// returns the last recorded status. Sparse histories are valid: a set slot 4
// is authoritative even when earlier slots are null. An empty history is
// pending.
func (t *Transaction) EffectiveStatus() TransactionStatus {
	for i := StatusSlots - 1; i >= 0; i-- {
		if t.Statuses[i] != nil {
			return *t.Statuses[i]
		}
	}
	return TxnPending
}

// Terminal reports whether the effective status ends the lifecycle.
func (t *Transaction) Terminal() bool {
	switch t.EffectiveStatus() {
	case TxnCompleted, TxnSettled, TxnFailed:
		return true
	}
	return false
}

// IsFloating reports whether the transaction currently represents floating
// cash: flagged at creation and not yet terminal.
func (t *Transaction) IsFloating() bool {
	return t.IsFloatingCash && !t.Terminal()
}

// Overdue reports whether a floating transaction has passed its expected
// completion window as of now. A missing window is never overdue.
func (t *Transaction) Overdue(now time.Time) bool {
	if !t.IsFloating() || t.ExpectedCompletionTime == nil {
		return false
	}
	return now.After(*t.ExpectedCompletionTime)
}

// Settled reports whether the row's settlement marker is DONE.
func (t *Transaction) Settled() bool {
	return t.SettlementMarker != nil && *t.SettlementMarker == SettlementDone
}

// IsRetry reports whether the id carries a retry prefix (RT1_, RT2_, ...).
func (t *Transaction) IsRetry() bool {
	_, _, ok := ParseRetryID(t.ID)
	return ok
}

// RetryID builds the derivative id for a retry of originalID at the given
// ordinal: "RT<ordinal>_<originalID>". The prefix is the lineage pointer
// back to the original.
func RetryID(originalID string, ordinal int) string {
	return fmt.Sprintf("%s%d_%s", retryPrefix, ordinal, originalID)
}

// ParseRetryID splits a retry id into its original id and ordinal. ok is
// false for ids that do not carry a retry prefix.
func ParseRetryID(id string) (originalID string, ordinal int, ok bool) {
	if !strings.HasPrefix(id, retryPrefix) {
		return "", 0, false
	}
	rest := id[len(retryPrefix):]
	sep := strings.Index(rest, "_")
	if sep <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(rest[:sep])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return rest[sep+1:], n, true
}
