// Package anomaly assigns a discrepancy signal to a transaction. The scorer
// contract is opaque to the rest of the engine: given transaction
// attributes, return a verdict and a risk in [0,1]. The default
// implementation is the rule set the reconciler runs ahead of monitoring;
// a learned model can be swapped in behind the same interface.
package anomaly

import (
	"strings"

	"github.com/trybe-fintech/reconciler-backend/internal/models"
)

type Result struct {
	IsAnomalous bool     `json:"is_anomalous"`
	Risk        float64  `json:"risk"`
	Reasons     []string `json:"reasons,omitempty"`
}

type Scorer interface {
	Score(txn models.Transaction) Result
}

// DefaultFloatingThresholdMinutes is the floating-duration cutoff above
// which a transaction is flagged.
const DefaultFloatingThresholdMinutes = 10

// RuleScorer flags discrepancies from transaction attributes alone.
type RuleScorer struct {
	FloatingThresholdMinutes int
}

func NewRuleScorer(thresholdMinutes int) *RuleScorer {
	if thresholdMinutes <= 0 {
		thresholdMinutes = DefaultFloatingThresholdMinutes
	}
	return &RuleScorer{FloatingThresholdMinutes: thresholdMinutes}
}

func (s *RuleScorer) Score(txn models.Transaction) Result {
	var reasons []string
	risk := 0.0

	add := func(reason string, weight float64) {
		reasons = append(reasons, reason)
		risk += weight
	}

	if txn.IsFloatingCash {
		add("transaction already flagged as floating cash", 0.4)
	}
	if txn.FloatingDurationMinutes > s.FloatingThresholdMinutes {
		add("floating duration exceeds threshold", 0.3)
	}
	for _, st := range txn.Statuses {
		if st == nil {
			continue
		}
		if *st == models.TxnFailed {
			add("failed status recorded", 0.3)
			break
		}
		if strings.Contains(strings.ToLower(string(*st)), "network") {
			add("network error recorded", 0.2)
			break
		}
	}
	if txn.ManualEscalationNeeded {
		add("manual escalation already required", 0.3)
	}
	if txn.IsFraudulentAttempt {
		add("fraudulent attempt flag set", 0.5)
	}
	if txn.IsCancellation {
		add("transaction was cancelled", 0.2)
	}

	if risk > 1 {
		risk = 1
	}
	return Result{
		IsAnomalous: len(reasons) > 0,
		Risk:        risk,
		Reasons:     reasons,
	}
}
