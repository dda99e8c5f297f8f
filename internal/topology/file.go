package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// topologyFile is the on-disk shape of the fleet topology. Members map each
// IP to the ports it is currently live on; an IP live on a port that is not
// in the group's port list is ignored for that port.
type topologyFile struct {
	Groups map[string]groupConfig `json:"groups"`
}

type groupConfig struct {
	Label   string           `json:"label"`
	Ports   []int            `json:"ports"`
	Members map[string][]int `json:"members"`
}

// snapshot is an immutable view of the topology, swapped atomically on refresh.
type snapshot struct {
	ips        []string
	byPort     map[int][]string
	groupByIP  map[string]string
	portsByGrp map[string][]int
	ipsByGrp   map[string][]string
	labelByGrp map[string]string
}

// FileProvider implements Provider from a JSON topology file. The file is
// re-read on every RefreshTargets call, so an external process can rewrite it
// between cycles.
type FileProvider struct {
	path string

	mu   sync.RWMutex
	snap *snapshot
}

// NewFileProvider loads the topology file and returns a provider backed by it.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if _, err := p.RefreshTargets(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// IPList returns the live IPs from the current snapshot.
func (p *FileProvider) IPList(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return nil, nil
	}
	return append([]string(nil), p.snap.ips...), nil
}

// RefreshTargets re-reads the topology file and swaps in a new snapshot.
func (p *FileProvider) RefreshTargets(ctx context.Context) ([]string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	var tf topologyFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse topology file: %w", err)
	}

	snap := &snapshot{
		byPort:     make(map[int][]string),
		groupByIP:  make(map[string]string),
		portsByGrp: make(map[string][]int),
		ipsByGrp:   make(map[string][]string),
		labelByGrp: make(map[string]string),
	}
	seen := make(map[string]struct{})
	groupNames := make([]string, 0, len(tf.Groups))
	for name := range tf.Groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)
	for _, name := range groupNames {
		g := tf.Groups[name]
		snap.labelByGrp[name] = g.Label
		snap.portsByGrp[name] = append([]int(nil), g.Ports...)
		configured := make(map[int]struct{}, len(g.Ports))
		for _, port := range g.Ports {
			configured[port] = struct{}{}
		}
		memberIPs := make([]string, 0, len(g.Members))
		for ip := range g.Members {
			memberIPs = append(memberIPs, ip)
		}
		sort.Strings(memberIPs)
		for _, ip := range memberIPs {
			snap.groupByIP[ip] = name
			snap.ipsByGrp[name] = append(snap.ipsByGrp[name], ip)
			if _, ok := seen[ip]; !ok {
				seen[ip] = struct{}{}
				snap.ips = append(snap.ips, ip)
			}
			for _, port := range g.Members[ip] {
				if _, ok := configured[port]; !ok {
					continue
				}
				snap.byPort[port] = append(snap.byPort[port], ip)
			}
		}
	}

	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
	return append([]string(nil), snap.ips...), nil
}

// Targets returns the live IPs from the current snapshot.
func (p *FileProvider) Targets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return nil
	}
	return append([]string(nil), p.snap.ips...)
}

// TargetsForPort returns the IPs live on the given port.
func (p *FileProvider) TargetsForPort(port int) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return nil
	}
	return append([]string(nil), p.snap.byPort[port]...)
}

// GroupForIP resolves the group an IP belongs to.
func (p *FileProvider) GroupForIP(ip string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return "", false
	}
	g, ok := p.snap.groupByIP[ip]
	return g, ok
}

// PortsForGroup returns the proxy ports configured for a group.
func (p *FileProvider) PortsForGroup(group string) []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return nil
	}
	return append([]int(nil), p.snap.portsByGrp[group]...)
}

// TargetsForGroup returns the member IPs of a group.
func (p *FileProvider) TargetsForGroup(group string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return nil
	}
	return append([]string(nil), p.snap.ipsByGrp[group]...)
}

// GroupLabel returns the display label for a group.
func (p *FileProvider) GroupLabel(group string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return ""
	}
	return p.snap.labelByGrp[group]
}
