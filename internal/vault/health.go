package vault

import (
	"context"
	"time"
)

// CheckStatus is the outcome of one health check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is one discrete health probe.
type Check struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Health aggregates the vault's health checks. Healthy means no check
// failed; warnings do not count against it.
type Health struct {
	Healthy   bool      `json:"healthy"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checkedAt"`
}

// sessionWarnWindow is how close to expiry the session check degrades
// to a warning.
const sessionWarnWindow = time.Minute

// GetHealthStatus runs the discrete checks: crypto subsystem, session,
// and both stores. It works in every lifecycle state; a locked or
// uninitialized vault reports failing checks instead of erroring.
func (m *Manager) GetHealthStatus(ctx context.Context) *Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireSessionLocked()

	now := m.clock()
	health := &Health{CheckedAt: now.UTC()}

	if m.crypto != nil {
		health.Checks = append(health.Checks, Check{Name: "crypto", Status: CheckPass})
	} else {
		health.Checks = append(health.Checks, Check{
			Name: "crypto", Status: CheckFail, Detail: "crypto subsystem not initialized",
		})
	}

	switch {
	case m.state != StateReady:
		health.Checks = append(health.Checks, Check{
			Name: "session", Status: CheckFail, Detail: "vault is " + string(m.state),
		})
	case m.sessionTTL > 0 && m.sessionExpires.Sub(now) < sessionWarnWindow:
		health.Checks = append(health.Checks, Check{
			Name: "session", Status: CheckWarn, Detail: "session expires soon",
		})
	default:
		health.Checks = append(health.Checks, Check{Name: "session", Status: CheckPass})
	}

	health.Checks = append(health.Checks, pingCheck(ctx, "index_store", m.index.Ping))
	health.Checks = append(health.Checks, pingCheck(ctx, "blob_store", m.blobs.Ping))

	health.Healthy = true
	for _, check := range health.Checks {
		if check.Status == CheckFail {
			health.Healthy = false
			break
		}
	}
	return health
}

func pingCheck(ctx context.Context, name string, ping func(context.Context) error) Check {
	if err := ping(ctx); err != nil {
		return Check{Name: name, Status: CheckFail, Detail: err.Error()}
	}
	return Check{Name: name, Status: CheckPass}
}
