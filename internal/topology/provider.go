package topology

import "context"

// Provider exposes the fleet topology: which egress IPs are currently live,
// which logical group an IP belongs to, and which proxy ports a group serves.
// Liveness is keyed per (IP, port) pair: one IP can serve several ports with
// independent membership.
//
// The topology is owned and mutated elsewhere; the pipeline only reads
// snapshots of it per cycle.
type Provider interface {
	// IPList returns the current live IP list without refreshing.
	IPList(ctx context.Context) ([]string, error)
	// RefreshTargets recomputes the live IP and per-port target sets and
	// returns the refreshed live IP list.
	RefreshTargets(ctx context.Context) ([]string, error)
	// Targets returns the live IPs from the current snapshot.
	Targets() []string
	// TargetsForPort returns the IPs live specifically on the given port.
	TargetsForPort(port int) []string
	// GroupForIP resolves the group an IP belongs to.
	GroupForIP(ip string) (string, bool)
	// PortsForGroup returns the proxy ports configured for a group.
	PortsForGroup(group string) []int
	// TargetsForGroup returns the member IPs of a group.
	TargetsForGroup(group string) []string
	// GroupLabel returns the display label for a group, or "" if unknown.
	GroupLabel(group string) string
}
