package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// phase3 drains this height's newly-seen denoms through the metadata
// refresher under a bounded fan-out (spec §4.D step 6: low priority,
// never blocks or fails the height).
func (p *Processor) phase3(ctx context.Context) {
	if len(p.phase3Pending) == 0 || p.d.MetaRefresher == nil {
		return
	}
	denoms := p.phase3Pending
	p.phase3Pending = nil

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.d.MetaConcurrency, 1))
	for _, denom := range denoms {
		denom := denom
		g.Go(func() error {
			if err := p.d.MetaRefresher.Refresh(gctx, denom); err != nil {
				p.d.Log.Warn().Err(err).Str("denom", denom).Msg("pipeline: metadata refresh failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
