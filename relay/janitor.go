package relay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor 周期性关闭空闲会话，直到 ctx 结束. SessionIdleTimeout 为 0 时立即返回.
func (r *Relay) RunJanitor(ctx context.Context) {
	if r.cfg.SessionIdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Sweep 关闭在 now 之前空闲超过 SessionIdleTimeout 且没有在途请求的会话，
// 返回关闭的会话数. 空闲关闭不发送事件.
func (r *Relay) Sweep(now time.Time) int {
	if r.cfg.SessionIdleTimeout <= 0 {
		return 0
	}
	removed := r.sessions.RemoveIdle(now.Add(-r.cfg.SessionIdleTimeout))
	for _, s := range removed {
		_ = s.Transport.Close()
		r.logger.Info("idle session closed",
			zap.String("chat_id", s.ChatID),
			zap.Time("last_activity", s.LastActivity))
	}
	if len(removed) > 0 {
		r.metrics.SetActiveSessions(r.sessions.Len())
	}
	return len(removed)
}
