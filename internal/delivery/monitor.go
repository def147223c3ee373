package delivery

import (
	"context"
	"fmt"
	"time"

	"bookdesk/pkg/database"
	"bookdesk/pkg/logger"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HealthCheck checks one dependency the primary channel needs.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// DBCheck pings the database.
func DBCheck(db *gorm.DB) HealthCheck {
	return HealthCheck{Name: "database", Check: func(ctx context.Context) error {
		return database.Ping(ctx, db)
	}}
}

// HTTPCheck sends a HEAD request; any response below 500 counts as reachable.
func HTTPCheck(name, url string, timeout time.Duration) HealthCheck {
	client := resty.New().SetTimeout(timeout)
	return HealthCheck{Name: name, Check: func(ctx context.Context) error {
		resp, err := client.R().SetContext(ctx).Head(url)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("%s health check: status %d", name, resp.StatusCode())
		}
		return nil
	}}
}

// Monitor heartbeats the checks and flips the engine online or offline.
type Monitor struct {
	engine   *Engine
	checks   []HealthCheck
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger
}

func NewMonitor(engine *Engine, interval time.Duration, log *logger.Logger, checks ...HealthCheck) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		engine:   engine,
		checks:   checks,
		interval: interval,
		timeout:  interval / 2,
		log:      logger.OrNop(log).Named("connectivity"),
	}
}

// Check runs every check once and reports the engine's resulting state.
func (m *Monitor) Check(ctx context.Context) bool {
	online := true
	for _, p := range m.checks {
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := p.Check(pctx)
		cancel()
		if err != nil {
			m.log.Warn("connectivity check failed", zap.String("check", p.Name), zap.Error(err))
			online = false
			break
		}
	}
	if ctx.Err() != nil {
		return m.engine.Online()
	}
	m.engine.SetOnline(ctx, online)
	return online
}

// Run checks at once, so a backlog restored at startup goes out without
// waiting a full interval, then on every tick.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
