package bandwidth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"proxywatch/internal/models"
	"proxywatch/internal/storage"
)

// fakeTopo is a scriptable topology.Provider.
type fakeTopo struct {
	mu         sync.Mutex
	ips        []string
	byPort     map[int][]string
	groupByIP  map[string]string
	portsByGrp map[string][]int
	ipsByGrp   map[string][]string
	labels     map[string]string
	refreshes  int
	refreshErr error
}

func (t *fakeTopo) IPList(ctx context.Context) ([]string, error) { return t.ips, nil }

func (t *fakeTopo) RefreshTargets(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	t.refreshes++
	t.mu.Unlock()
	if t.refreshErr != nil {
		return nil, t.refreshErr
	}
	return t.ips, nil
}

func (t *fakeTopo) Targets() []string                { return t.ips }
func (t *fakeTopo) TargetsForPort(port int) []string { return t.byPort[port] }

func (t *fakeTopo) GroupForIP(ip string) (string, bool) {
	g, ok := t.groupByIP[ip]
	return g, ok
}

func (t *fakeTopo) PortsForGroup(group string) []int      { return t.portsByGrp[group] }
func (t *fakeTopo) TargetsForGroup(group string) []string { return t.ipsByGrp[group] }
func (t *fakeTopo) GroupLabel(group string) string        { return t.labels[group] }

// fakeStore is an in-memory sample store that computes aggregates the way
// the real backends do.
type fakeStore struct {
	mu        sync.Mutex
	samples   []models.BandwidthSample
	insertErr map[string]error // keyed by "ip:port"
	queryErr  error
}

func newFakeStore() *fakeStore { return &fakeStore{} }

func (s *fakeStore) InsertErrorLog(ctx context.Context, rec *models.ErrorLogRecord) error {
	return nil
}

func (s *fakeStore) HasErrorLog(ctx context.Context, key storage.ErrorLogKey) (bool, error) {
	return false, nil
}

func (s *fakeStore) LastErrorLogTime(ctx context.Context, serverIP string) (*time.Time, error) {
	return nil, nil
}

func (s *fakeStore) ListErrorLogs(ctx context.Context, params storage.ListErrorLogsParams) ([]models.ErrorLogRecord, error) {
	return nil, nil
}

func (s *fakeStore) InsertBandwidthSample(ctx context.Context, sample *models.BandwidthSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErr[fmt.Sprintf("%s:%d", sample.IPAddress, sample.ProxyPort)]; err != nil {
		return err
	}
	s.samples = append(s.samples, *sample)
	return nil
}

func inWindow(ts time.Time, w *storage.TimeRange) bool {
	if w == nil {
		return true
	}
	return !ts.Before(w.Start) && !ts.After(w.End)
}

func (s *fakeStore) BandwidthAverages(ctx context.Context, params storage.BandwidthAveragesParams) ([]storage.IPAverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	sums := make(map[string]float64)
	counts := make(map[string]int64)
	for _, sm := range s.samples {
		if sm.ProxyPort != params.ProxyPort || !inWindow(sm.Timestamp, params.Window) {
			continue
		}
		sums[sm.IPAddress] += sm.UpBandwidth
		counts[sm.IPAddress]++
	}
	ips := make([]string, 0, len(sums))
	for ip := range sums {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	out := make([]storage.IPAverage, 0, len(ips))
	for _, ip := range ips {
		out = append(out, storage.IPAverage{
			IPAddress: ip,
			Average:   sums[ip] / float64(counts[ip]),
			Count:     counts[ip],
		})
	}
	return out, nil
}

func (s *fakeStore) ListBandwidthSamples(ctx context.Context, params storage.ListSamplesParams) ([]models.BandwidthSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []models.BandwidthSample
	for _, sm := range s.samples {
		if sm.IPAddress != params.IPAddress {
			continue
		}
		if params.ProxyPort != 0 && sm.ProxyPort != params.ProxyPort {
			continue
		}
		if !inWindow(sm.Timestamp, params.Window) {
			continue
		}
		out = append(out, sm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *fakeStore) Stats(ctx context.Context) (*models.Stats, error) {
	return &models.Stats{}, nil
}

func (s *fakeStore) samplesFor(ip string, port int) []models.BandwidthSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BandwidthSample
	for _, sm := range s.samples {
		if sm.IPAddress == ip && sm.ProxyPort == port {
			out = append(out, sm)
		}
	}
	return out
}
