package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trybe-fintech/reconciler-backend/internal/metrics"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
)

// Priority cutoffs for the recommended-action section.
var (
	criticalAmount = decimal.NewFromInt(50000)
	highAmount     = decimal.NewFromInt(10000)
)

// ReportService writes terminal reconciliation outcomes into the messages
// store. It is a dumb appender: rows are never updated or deleted, and
// exactly-once is the coordinator's job.
type ReportService struct {
	reports repo.Reports
}

func NewReportService(r repo.Reports) *ReportService { return &ReportService{reports: r} }

// Create persists a report for the transaction and returns its message id.
// The id carries the outcome marker (SUC_ or ESC_), a timestamp and the
// transaction id.
func (s *ReportService) Create(ctx context.Context, txn models.Transaction, outcome models.ReportOutcome, narrative string, now time.Time) (string, error) {
	messageID := outcome.Prefix() + now.Format("20060102150405") + "_" + txn.ID
	rep := models.Report{
		MessageID:     messageID,
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		Report:        narrative,
		Outcome:       outcome,
	}
	if err := s.reports.Create(ctx, rep); err != nil {
		return "", err
	}
	metrics.ReportsWritten.WithLabelValues(string(outcome)).Inc()
	return messageID, nil
}

func (s *ReportService) ListByTransaction(ctx context.Context, transactionID string) ([]models.Report, error) {
	return s.reports.ListByTransaction(ctx, transactionID)
}

// HasReport reports whether a terminal report already exists for the
// transaction.
func (s *ReportService) HasReport(ctx context.Context, transactionID string) (bool, error) {
	reps, err := s.reports.ListByTransaction(ctx, transactionID)
	if err != nil {
		return false, err
	}
	return len(reps) > 0, nil
}

// BuildNarrative renders the sectioned resolution narrative surfaced to
// operations staff.
func BuildNarrative(txn models.Transaction, retries []models.Transaction, outcome models.ReportOutcome, details string, now time.Time) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}
	rule := strings.Repeat("=", 70)
	sub := strings.Repeat("-", 40)

	title := "ESCALATION REPORT FOR FAILED TRANSACTION"
	if outcome == models.OutcomeSuccess {
		title = "SUCCESS REPORT - TRANSACTION RETRIED"
	}
	line(rule)
	line(title)
	line(rule)
	line("")
	line("1. REPORT HEADER")
	line(sub)
	line("Report Type: %s", outcome)
	line("Generated At: %s", now.Format(time.RFC3339))
	line("Priority Level: %s", priority(txn, len(retries)))
	line("")
	line("2. TRANSACTION DETAILS")
	line(sub)
	line("Transaction ID: %s", txn.ID)
	line("User ID: %s", txn.UserID)
	line("Amount: %s", txn.Amount.StringFixed(2))
	if txn.Type != "" {
		line("Type: %s", txn.Type)
	}
	if txn.RecipientAccountID != "" {
		line("Recipient Account: %s", txn.RecipientAccountID)
	}
	if txn.RecipientBankOrEwallet != "" {
		line("Recipient Bank/E-Wallet: %s", txn.RecipientBankOrEwallet)
	}
	line("")
	line("3. TIMELINE")
	line(sub)
	line("Initiated: %s", txn.TimestampInitiated.Format(time.RFC3339))
	for i := 0; i < models.StatusSlots; i++ {
		if txn.Statuses[i] == nil {
			continue
		}
		ts := "unknown"
		if txn.StatusTimestamps[i] != nil {
			ts = txn.StatusTimestamps[i].Format(time.RFC3339)
		}
		line("  - %s: %s", *txn.Statuses[i], ts)
	}
	if txn.ExpectedCompletionTime != nil {
		line("Expected Completion: %s", txn.ExpectedCompletionTime.Format(time.RFC3339))
	}
	line("")
	line("4. DISCREPANCY DETAILS")
	line(sub)
	line("Floating Cash: %s", yesNo(txn.IsFloatingCash))
	line("Floating Duration: %d minutes", txn.FloatingDurationMinutes)
	line("Fraud Attempt: %s", yesNo(txn.IsFraudulentAttempt))
	line("Cancellation: %s", yesNo(txn.IsCancellation))
	line("")
	line("5. RESOLUTION ATTEMPTS")
	line(sub)
	line("Retry Count: %d", len(retries))
	for _, rt := range retries {
		line("  - %s at %s (%s)", rt.ID, rt.TimestampInitiated.Format(time.RFC3339), rt.EffectiveStatus())
	}
	line("Resolution: %s", details)
	line("")
	line("6. RECOMMENDED ACTION")
	line(sub)
	switch {
	case outcome == models.OutcomeSuccess:
		line("No further action required. Funds credited to wallet.")
	case txn.IsFraudulentAttempt:
		line("FRAUD ALERT: notify the fraud prevention team and block the account pending review.")
	case txn.Amount.GreaterThan(criticalAmount):
		line("HIGH VALUE: prioritize manual review by senior operations staff and contact the customer.")
	default:
		line("Manual follow-up required: verify settlement with the receiving institution.")
	}
	return b.String()
}

func priority(txn models.Transaction, retryCount int) string {
	switch {
	case txn.Amount.GreaterThan(criticalAmount):
		return "CRITICAL"
	case txn.Amount.GreaterThan(highAmount):
		return "HIGH"
	case retryCount >= 2:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}
