package observability

import "context"

// PingHealthCheck adapts a connectivity ping into a named health check,
// the same ping-wrapping shape as the teacher's DatabaseHealthCheck and
// RedisHealthCheck constructors, generalized to any dependency that
// exposes a context-aware ping func.
type PingHealthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingHealthCheck builds a named health check around ping.
func NewPingHealthCheck(name string, ping func(ctx context.Context) error) *PingHealthCheck {
	return &PingHealthCheck{name: name, ping: ping}
}

// Name identifies the checked dependency.
func (c *PingHealthCheck) Name() string { return c.name }

// Check runs the ping.
func (c *PingHealthCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}
