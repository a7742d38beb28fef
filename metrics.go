package authgate

import "github.com/lockplex/authgate/internal/metrics"

// MetricID identifies a single gateway counter.
type MetricID = metrics.MetricID

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = metrics.Snapshot

const (
	MetricLoginSuccess          = metrics.MetricLoginSuccess
	MetricLoginFailure          = metrics.MetricLoginFailure
	MetricSessionCreated        = metrics.MetricSessionCreated
	MetricSessionRevoked        = metrics.MetricSessionRevoked
	MetricSessionExpired        = metrics.MetricSessionExpired
	MetricSessionEvicted        = metrics.MetricSessionEvicted
	MetricSessionLimitRejected  = metrics.MetricSessionLimitRejected
	MetricLogout                = metrics.MetricLogout
	MetricLogoutAll             = metrics.MetricLogoutAll
	MetricChallengeIssued       = metrics.MetricChallengeIssued
	MetricRequestCacheHit       = metrics.MetricRequestCacheHit
	MetricRememberIssued        = metrics.MetricRememberIssued
	MetricRememberUsed          = metrics.MetricRememberUsed
	MetricRememberInvalid       = metrics.MetricRememberInvalid
	MetricRememberReuseDetected = metrics.MetricRememberReuseDetected
	MetricUpstreamTimeout       = metrics.MetricUpstreamTimeout
)

// MetricName returns a stable human-readable name for a counter, suitable
// for export labels.
func MetricName(id MetricID) string {
	switch id {
	case MetricLoginSuccess:
		return "login_success"
	case MetricLoginFailure:
		return "login_failure"
	case MetricSessionCreated:
		return "session_created"
	case MetricSessionRevoked:
		return "session_revoked"
	case MetricSessionExpired:
		return "session_expired"
	case MetricSessionEvicted:
		return "session_evicted"
	case MetricSessionLimitRejected:
		return "session_limit_rejected"
	case MetricLogout:
		return "logout"
	case MetricLogoutAll:
		return "logout_all"
	case MetricChallengeIssued:
		return "challenge_issued"
	case MetricRequestCacheHit:
		return "request_cache_hit"
	case MetricRememberIssued:
		return "remember_issued"
	case MetricRememberUsed:
		return "remember_used"
	case MetricRememberInvalid:
		return "remember_invalid"
	case MetricRememberReuseDetected:
		return "remember_reuse_detected"
	case MetricUpstreamTimeout:
		return "upstream_timeout"
	default:
		return "unknown"
	}
}

// MetricsSnapshot returns the gateway's counters. Disabled metrics yield
// an empty snapshot.
func (g *Gateway) MetricsSnapshot() MetricsSnapshot {
	return g.metrics.Snapshot()
}

// MetricValue reads one counter.
func (g *Gateway) MetricValue(id MetricID) uint64 {
	return g.metrics.Value(id)
}
