// Package ledger exposes the usage ledger: raw entries and aggregated
// summaries.
package ledger

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/domain/resource"
	"github.com/market-engine/market-engine/internal/store"
)

type Service struct {
	store  store.Store
	logger zerolog.Logger
}

func NewService(s store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  s,
		logger: logger.With().Str("service", "ledger").Logger(),
	}
}

func (s *Service) List(ctx context.Context, f store.LedgerFilter) ([]*resource.LedgerEntry, error) {
	return s.store.ListLedger(ctx, f)
}

// SummaryLine aggregates usage for one (resource, consumer, currency)
// combination.
type SummaryLine struct {
	ResourceID string  `json:"resourceId"`
	ConsumerID string  `json:"consumerId"`
	Units      int     `json:"units"`
	Cost       float64 `json:"cost"`
	Currency   string  `json:"currency"`
	Entries    int     `json:"entries"`
}

// Summary aggregates matching entries per resource and consumer.
func (s *Service) Summary(ctx context.Context, f store.LedgerFilter) ([]SummaryLine, error) {
	entries, err := s.store.ListLedger(ctx, f)
	if err != nil {
		return nil, err
	}
	type key struct {
		resourceID, consumerID, currency string
	}
	agg := map[key]*SummaryLine{}
	for _, e := range entries {
		k := key{e.ResourceID, e.ConsumerID, e.Currency}
		line, ok := agg[k]
		if !ok {
			line = &SummaryLine{ResourceID: e.ResourceID, ConsumerID: e.ConsumerID, Currency: e.Currency}
			agg[k] = line
		}
		line.Units += e.Units
		line.Cost += e.Cost
		line.Entries++
	}
	out := make([]SummaryLine, 0, len(agg))
	for _, line := range agg {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceID != out[j].ResourceID {
			return out[i].ResourceID < out[j].ResourceID
		}
		return out[i].ConsumerID < out[j].ConsumerID
	})
	return out, nil
}
