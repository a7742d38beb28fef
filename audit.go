package authgate

import (
	"context"
	"time"

	"github.com/lockplex/authgate/internal/audit"
)

// Audit event types emitted by the gateway.
const (
	EventLoginSuccess        = "login.success"
	EventLoginFailure        = "login.failure"
	EventLoginLimitRejected  = "login.limit_rejected"
	EventChallengeIssued     = "challenge.issued"
	EventSessionEvicted      = "session.evicted"
	EventSessionExpired      = "session.expired"
	EventLogout              = "logout"
	EventLogoutAll           = "logout.all"
	EventRememberIssued      = "remember.issued"
	EventRememberUsed        = "remember.used"
	EventRememberInvalid     = "remember.invalid"
	EventRememberReuse       = "remember.reuse_detected"
	EventUpstreamTimeout     = "upstream.timeout"
	EventPasswordUpgraded    = "password.upgraded"
	EventPasswordUpgradeFail = "password.upgrade_failed"
)

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *audit.Dispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}

func (g *Gateway) emitAudit(ctx context.Context, eventType, accountID, sessionID string, success bool, errMsg string, metadata map[string]string) {
	if g.audit == nil {
		return
	}

	g.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Error:     errMsg,
		Metadata:  metadata,
	})
}
