package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/pathlane/usage-gate/internal/models"
)

// PolicyLister is the slice of the policy repository the source needs.
type PolicyLister interface {
	List(ctx context.Context) ([]models.TierPolicy, error)
}

// DBSource loads the policy table from the tier_policies table published by
// the admin plane.
type DBSource struct {
	repo PolicyLister
}

func NewDBSource(repo PolicyLister) *DBSource {
	return &DBSource{repo: repo}
}

// Load decodes every published row. A row that fails validation is skipped
// with a log line rather than failing the whole table, so one bad publish
// can't block refreshes for every other tier.
func (s *DBSource) Load(ctx context.Context) (map[string]*LimitSet, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tier policies: %w", err)
	}

	byTier := make(map[string]*LimitSet, len(rows))
	for _, row := range rows {
		ls, err := limitSetFromRow(row)
		if err != nil {
			log.Printf("Skipping invalid policy row %q: %v", row.Name, err)
			continue
		}
		byTier[row.Name] = ls
	}

	return byTier, nil
}

func limitSetFromRow(row models.TierPolicy) (*LimitSet, error) {
	ls := &LimitSet{
		Tier:      row.Name,
		Version:   row.Version,
		Rates:     make(map[string]RateRule),
		Quotas:    make(map[string]int64),
		Cacheable: make(map[string]bool),
		Toggles:   make(map[string]bool),
	}

	if err := json.Unmarshal([]byte(row.Limits), &ls.Rates); err != nil {
		return nil, err
	}
	if err := ValidateRates(ls.Rates); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(row.Quotas), &ls.Quotas); err != nil {
		return nil, err
	}
	if row.Toggles != "" {
		if err := json.Unmarshal([]byte(row.Toggles), &ls.Toggles); err != nil {
			return nil, err
		}
	}
	if row.Cacheable != "" {
		if err := json.Unmarshal([]byte(row.Cacheable), &ls.Cacheable); err != nil {
			return nil, err
		}
	}

	return ls, nil
}
