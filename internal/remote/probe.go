package remote

import (
	"context"
	"time"

	"proxywatch/internal/models"
)

// ProbeResult is the outcome of one liveness handshake. A probe always
// settles: either the target accepted a session within the deadline, or the
// reason it did not.
type ProbeResult struct {
	Alive  bool
	Reason string
}

// Prober tests whether a fleet target accepts SSH sessions.
type Prober struct {
	timeout time.Duration
}

// NewProber creates a Prober with the given per-probe deadline.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{timeout: timeout}
}

// Probe opens one short-lived SSH session against the target. It never
// returns an error and never blocks past the deadline: connection failures,
// auth failures, and deadline expiry all resolve to Alive=false with a
// reason.
func (p *Prober) Probe(ctx context.Context, target models.RemoteTarget) ProbeResult {
	if err := ctx.Err(); err != nil {
		return ProbeResult{Alive: false, Reason: err.Error()}
	}

	client, err := dial(target, p.timeout)
	if err != nil {
		return ProbeResult{Alive: false, Reason: err.Error()}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return ProbeResult{Alive: false, Reason: err.Error()}
	}
	session.Close()

	return ProbeResult{Alive: true}
}
