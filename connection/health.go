package connection

import (
	"context"
	"log/slog"
	"time"
)

// runHealthChecks pings the pool on its configured interval and marks it
// unhealthy on a failing ping; it does not close or evict any connection
// itself (spec §4.1). The database/sql pool
// already recycles broken connections on use; this loop exists to flag a
// server-wide outage promptly via IsHealthy rather than waiting for the
// next caller to discover it mid-task.
func (p *pool) runHealthChecks() {
	if p.cfg.HealthInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HealthInterval/2)
			err := p.db.PingContext(ctx)
			cancel()

			p.mu.Lock()
			wasHealthy := p.healthy
			p.healthy = err == nil
			p.mu.Unlock()

			if err != nil && wasHealthy {
				slog.Warn("connection: health check failed", "server", p.serverKey, "error", err)
			} else if err == nil && !wasHealthy {
				slog.Info("connection: health check recovered", "server", p.serverKey)
			}
		}
	}
}
