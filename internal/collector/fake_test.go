package collector

import (
	"context"
	"sync"
	"time"

	"proxywatch/internal/models"
	"proxywatch/internal/remote"
	"proxywatch/internal/storage"
)

// fakeStore is an in-memory storage.Storer with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	records map[storage.ErrorLogKey]models.ErrorLogRecord

	hasErr           error // returned by HasErrorLog when set
	hasAlwaysFalse   bool  // simulate a racing cycle: existence check misses
	insertErr        error // returned by InsertErrorLog when set
	lastTimeOverride *time.Time

	// concurrency instrumentation
	inFlight    int
	maxInFlight int
	insertDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[storage.ErrorLogKey]models.ErrorLogRecord)}
}

func keyOf(rec *models.ErrorLogRecord) storage.ErrorLogKey {
	return storage.ErrorLogKey{
		ServerIP:          rec.ServerIP,
		OriginalTimestamp: rec.OriginalTimestamp,
		ErrorMessage:      rec.ErrorMessage,
		ClientIP:          rec.ClientIP,
	}
}

func (s *fakeStore) InsertErrorLog(ctx context.Context, rec *models.ErrorLogRecord) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	delay := s.insertDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.insertErr != nil {
		return s.insertErr
	}
	key := keyOf(rec)
	if _, exists := s.records[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.records[key] = *rec
	return nil
}

func (s *fakeStore) HasErrorLog(ctx context.Context, key storage.ErrorLogKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasErr != nil {
		return false, s.hasErr
	}
	if s.hasAlwaysFalse {
		return false, nil
	}
	_, ok := s.records[key]
	return ok, nil
}

func (s *fakeStore) LastErrorLogTime(ctx context.Context, serverIP string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTimeOverride != nil {
		return s.lastTimeOverride, nil
	}
	var last *time.Time
	for key, rec := range s.records {
		if key.ServerIP != serverIP {
			continue
		}
		ts := rec.OriginalTimestamp
		if last == nil || ts.After(*last) {
			last = &ts
		}
	}
	return last, nil
}

func (s *fakeStore) ListErrorLogs(ctx context.Context, params storage.ListErrorLogsParams) ([]models.ErrorLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ErrorLogRecord
	for _, rec := range s.records {
		if params.ServerIP != "" && rec.ServerIP != params.ServerIP {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) InsertBandwidthSample(ctx context.Context, sample *models.BandwidthSample) error {
	return nil
}

func (s *fakeStore) BandwidthAverages(ctx context.Context, params storage.BandwidthAveragesParams) ([]storage.IPAverage, error) {
	return nil, nil
}

func (s *fakeStore) ListBandwidthSamples(ctx context.Context, params storage.ListSamplesParams) ([]models.BandwidthSample, error) {
	return nil, nil
}

func (s *fakeStore) Stats(ctx context.Context) (*models.Stats, error) {
	return &models.Stats{}, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fakeTopo is a fixed-list topology.Provider.
type fakeTopo struct {
	ips []string
	err error
}

func (t *fakeTopo) IPList(ctx context.Context) ([]string, error)         { return t.ips, t.err }
func (t *fakeTopo) RefreshTargets(ctx context.Context) ([]string, error) { return t.ips, t.err }
func (t *fakeTopo) Targets() []string                                    { return t.ips }
func (t *fakeTopo) TargetsForPort(port int) []string                     { return nil }
func (t *fakeTopo) GroupForIP(ip string) (string, bool)                  { return "", false }
func (t *fakeTopo) PortsForGroup(group string) []int                     { return nil }
func (t *fakeTopo) TargetsForGroup(group string) []string                { return nil }
func (t *fakeTopo) GroupLabel(group string) string                       { return "" }

// fakeProber marks specific hosts as down and tracks probe concurrency.
type fakeProber struct {
	mu          sync.Mutex
	down        map[string]string
	inFlight    int
	maxInFlight int
	probeDelay  time.Duration
}

func (p *fakeProber) Probe(ctx context.Context, target models.RemoteTarget) remote.ProbeResult {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	delay := p.probeDelay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	p.inFlight--
	reason, isDown := "", false
	if p.down != nil {
		reason, isDown = p.down[target.Host]
	}
	p.mu.Unlock()

	if isDown {
		return remote.ProbeResult{Alive: false, Reason: reason}
	}
	return remote.ProbeResult{Alive: true}
}

// fakeHarvester serves canned records per host, with injectable errors and
// panics.
type fakeHarvester struct {
	recs   map[string][]models.ErrorLogRecord
	errs   map[string]error
	panics map[string]bool
}

func (h *fakeHarvester) Fetch(ctx context.Context, target models.RemoteTarget, since *time.Time) ([]models.ErrorLogRecord, error) {
	if h.panics != nil && h.panics[target.Host] {
		panic("harvester exploded for " + target.Host)
	}
	if h.errs != nil {
		if err := h.errs[target.Host]; err != nil {
			return nil, err
		}
	}
	var out []models.ErrorLogRecord
	for _, rec := range h.recs[target.Host] {
		if since != nil && !rec.OriginalTimestamp.After(*since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func errorRecord(serverIP string, ts time.Time, message string) models.ErrorLogRecord {
	return models.ErrorLogRecord{
		ServerIP:          serverIP,
		LogLevel:          "error",
		OriginalTimestamp: ts,
		Upstream:          "http://10.0.0.1:80",
		ErrorMessage:      message,
		FullLogText:       message,
	}
}
