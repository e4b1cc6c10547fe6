package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricClassifications = "civos.classifications.total"
	MetricEscalations     = "civos.escalations.total"
	MetricConfirmations   = "civos.confirmations.total"
	MetricBudgetSpend     = "civos.budget.spend"
	MetricLedgerEntries   = "civos.ledger.entries.total"
)

// Metrics are the governance counters. All methods are no-ops on a nil receiver.
type Metrics struct {
	classifications metric.Int64Counter
	escalations     metric.Int64Counter
	confirmations   metric.Int64Counter
	spend           metric.Float64Counter
	ledgerEntries   metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.classifications, err = meter.Int64Counter(MetricClassifications,
		metric.WithDescription("Actions classified, by type"),
		metric.WithUnit("{action}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricClassifications, err)
	}
	if m.escalations, err = meter.Int64Counter(MetricEscalations,
		metric.WithDescription("Classifications raised by the budget monitor"),
		metric.WithUnit("{action}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricEscalations, err)
	}
	if m.confirmations, err = meter.Int64Counter(MetricConfirmations,
		metric.WithDescription("Human decisions on pending actions, by outcome"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricConfirmations, err)
	}
	if m.spend, err = meter.Float64Counter(MetricBudgetSpend,
		metric.WithDescription("Spend recorded against the monthly budget"),
		metric.WithUnit("MYR"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricBudgetSpend, err)
	}
	if m.ledgerEntries, err = meter.Int64Counter(MetricLedgerEntries,
		metric.WithDescription("Proof entries appended, by type"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricLedgerEntries, err)
	}
	return m, nil
}

func (m *Metrics) Classified(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	m.classifications.Add(ctx, 1, metric.WithAttributes(attribute.String("type", tier)))
}

func (m *Metrics) Escalated(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// Decided counts a confirm or decline.
func (m *Metrics) Decided(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.confirmations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Spent(ctx context.Context, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.spend.Add(ctx, amount)
}

func (m *Metrics) EntryAppended(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("type", entryType)))
}
