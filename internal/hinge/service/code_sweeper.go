package service

import (
	"context"
	"log"
	"time"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
)

// CodeSweeper flips pending enrollment codes to expired once their TTL
// passes. Redemption checks expiry independently, so the sweeper is about
// keeping stored status honest, not about correctness of redemption.
type CodeSweeper struct {
	store    store.EnrollmentStore
	interval time.Duration
	logger   *log.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewCodeSweeper(s store.EnrollmentStore, interval time.Duration, logger *log.Logger) *CodeSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CodeSweeper{
		store:    s,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (c *CodeSweeper) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
}

func (c *CodeSweeper) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

func (c *CodeSweeper) loop(ctx context.Context) {
	defer close(c.done)

	c.sweep(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *CodeSweeper) sweep(ctx context.Context) {
	flipped, err := c.store.ExpirePending(ctx, time.Now().UTC())
	if err != nil {
		c.logger.Printf("code sweep error: %v", err)
		return
	}
	if flipped > 0 {
		c.logger.Printf("code sweep: expired %d pending codes", flipped)
	}
}
