package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/config"
)

// Checker evaluates alerts on a ticker and forwards new ones to the webhook.
// An alert type that already fired is held back until the lookback window
// has passed, so one failed crawl does not page every interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker wires a collector and alerter into a check loop.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

func (c *Checker) interval() time.Duration {
	secs := c.cfg.CheckIntervalSecs
	if secs <= 0 {
		secs = config.DefaultCheckIntervalSecs
	}
	return time.Duration(secs) * time.Second
}

func (c *Checker) quietPeriod() time.Duration {
	if c.cfg.LookbackWindowHours <= 0 {
		return c.interval()
	}
	return time.Duration(c.cfg.LookbackWindowHours) * time.Hour
}

// Run checks once per interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := c.interval()
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects and evaluates once, sends the alerts not already sent in
// the quiet period, and returns everything that triggered.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	fresh := c.unsent(alerts)
	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alert check complete",
		zap.Int("triggered", len(alerts)),
		zap.Int("suppressed", len(alerts)-len(fresh)),
		zap.Int("sent", sent),
	)
	return alerts
}

func (c *Checker) unsent(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	quiet := c.quietPeriod()
	var out []Alert
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < quiet {
			continue
		}
		c.lastSent[a.Type] = now
		out = append(out, a)
	}
	return out
}
