package rules

import (
	"context"
	"log"
	"time"
)

const defaultPollInterval = time.Minute

// Poller runs due delayed actions on a ticker until its context ends.
type Poller struct {
	Engine   Engine
	Interval time.Duration
	Logger   *log.Logger
}

// Start runs the poller on its own goroutine.
func (p Poller) Start(ctx context.Context) {
	go p.Run(ctx)
}

func (p Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p Poller) tick(ctx context.Context) {
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}
	results, err := p.Engine.RunDue(ctx)
	if err != nil {
		logger.Printf("rules: poll due actions failed: %v", err)
		return
	}
	for _, r := range results {
		if r.Result.Executed {
			continue
		}
		logger.Printf("rules: pending %s (%s on %s) failed: %s", r.PendingID, r.Result.Type, r.TaskID, r.Result.Error)
	}
}
