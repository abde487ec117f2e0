package store

import (
	"context"
	"fmt"
	"time"
)

// partitionedParents is the fixed list of time-partitioned tables spec
// §4.J names.
var partitionedParents = []string{"trades", "price_ticks", "ohlcv_1m", "leaderboard_traders"}

// PartitionMaintainer ensures monthly child partitions exist ahead of
// the current month for every time-partitioned parent.
type PartitionMaintainer struct {
	s *Store
}

// Partitions returns a PartitionMaintainer bound to this pool.
func (s *Store) Partitions() *PartitionMaintainer { return &PartitionMaintainer{s: s} }

// EnsureAhead creates, if missing, the child partition covering `now`
// and the next monthsAhead months, for every partitioned parent. Named
// `<parent>_YYYY_MM`, idempotent via IF NOT EXISTS (spec §4.J).
//
// Called once at boot (so a cold start mid-month has somewhere to write
// immediately) and then on every PARTITIONS_SEC tick — see
// SPEC_FULL.md "Partition Maintainer bootstrap".
func (p *PartitionMaintainer) EnsureAhead(ctx context.Context, now time.Time, monthsAhead int) error {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i <= monthsAhead; i++ {
		monthStart := start.AddDate(0, i, 0)
		monthEnd := monthStart.AddDate(0, 1, 0)
		for _, parent := range partitionedParents {
			if err := p.ensureOne(ctx, parent, monthStart, monthEnd); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *PartitionMaintainer) ensureOne(ctx context.Context, parent string, from, to time.Time) error {
	child := fmt.Sprintf("%s_%04d_%02d", parent, from.Year(), from.Month())
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		child, parent, from.Format("2006-01-02T15:04:05Z"), to.Format("2006-01-02T15:04:05Z"),
	)
	return dbRetry(ctx, func(ctx context.Context) error {
		_, err := p.s.Pool.Exec(ctx, stmt)
		if err != nil {
			return fmt.Errorf("partitions: ensure %s: %w", child, err)
		}
		return nil
	})
}
