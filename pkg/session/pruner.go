package session

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openwearlab/studygate/pkg/observability"
)

// Pruner periodically deletes revocation entries for tokens that would
// have expired on their own. An entry only needs to outlive the token it
// blocks; after revoked-at + TTL the jti can never validate again.
type Pruner struct {
	list   *SQLRevocationList
	ttl    time.Duration
	logger *observability.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewPruner(list *SQLRevocationList, ttl time.Duration, logger *observability.Logger) *Pruner {
	return &Pruner{
		list:   list,
		ttl:    ttl,
		logger: logger,
		cron:   cron.New(),
		now:    time.Now,
	}
}

// RunOnce prunes immediately and reports how many entries were removed.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().UTC().Add(-p.ttl)
	removed, err := p.list.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if p.logger != nil && removed > 0 {
		p.logger.WithFields(map[string]interface{}{
			"removed": removed,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("pruned expired revocation entries")
	}
	return removed, nil
}

// Start schedules pruning with the given cron expression and launches
// the scheduler.
func (p *Pruner) Start(schedule string) error {
	_, err := p.cron.AddFunc(schedule, func() {
		if _, err := p.RunOnce(context.Background()); err != nil && p.logger != nil {
			p.logger.WithError(err).Error("revocation pruning failed")
		}
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for a running prune to finish.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}
