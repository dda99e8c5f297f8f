package bandwidth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"proxywatch/internal/models"
	"proxywatch/internal/storage"
	"proxywatch/internal/topology"
)

// fetchTimeout is the hard deadline on the external bandwidth snapshot call.
const fetchTimeout = 10 * time.Second

// snapshotEntry is one element of the external bandwidth snapshot. The
// upstream API is loose about the bandwidth type; anything that does not
// parse as a non-negative number becomes 0.
type snapshotEntry struct {
	IP          string
	UpBandwidth float64
}

func (e *snapshotEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		IP string          `json:"ip"`
		Up json.RawMessage `json:"up_bandwidth"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.IP = raw.IP
	e.UpBandwidth = coerceBandwidth(raw.Up)
	return nil
}

func coerceBandwidth(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f < 0 {
			return 0
		}
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
			return f
		}
	}
	return 0
}

// Ingestor fetches one external per-IP bandwidth snapshot per cycle and fans
// it out across the live (IP, port) pairs of the fleet topology.
type Ingestor struct {
	topo     topology.Provider
	store    storage.Storer
	client   *http.Client
	endpoint string
}

// NewIngestor creates an Ingestor polling the given snapshot endpoint.
func NewIngestor(topo topology.Provider, store storage.Storer, endpoint string) *Ingestor {
	return &Ingestor{
		topo:     topo,
		store:    store,
		client:   &http.Client{Timeout: fetchTimeout},
		endpoint: endpoint,
	}
}

// Collect refreshes the topology, fetches one bandwidth snapshot, and
// persists one sample per live (IP, port) pair the snapshot covers. Samples
// for IPs that are not live, or whose group cannot be resolved, are
// discarded: recording them would pollute the aggregates with stale or
// reassigning IPs. A single row failure is logged and skipped; an upstream
// API failure aborts the whole cycle with nothing persisted.
func (ing *Ingestor) Collect(ctx context.Context) (*models.IngestResult, error) {
	liveIPs, err := ing.topo.RefreshTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh topology: %w", err)
	}

	entries, err := ing.fetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	liveSet := make(map[string]struct{}, len(liveIPs))
	for _, ip := range liveIPs {
		liveSet[ip] = struct{}{}
	}

	// One collection instant for every row of this cycle, so samples from
	// the same snapshot align across IPs in group series.
	now := time.Now().UTC().Truncate(time.Second)

	collected := 0
	for _, entry := range entries {
		if entry.IP == "" {
			continue
		}
		if _, live := liveSet[entry.IP]; !live {
			continue
		}
		group, ok := ing.topo.GroupForIP(entry.IP)
		if !ok {
			log.Printf("bandwidth sample for %s has no group, discarding", entry.IP)
			continue
		}
		for _, port := range ing.topo.PortsForGroup(group) {
			if !contains(ing.topo.TargetsForPort(port), entry.IP) {
				continue
			}
			sample := &models.BandwidthSample{
				IPAddress:   entry.IP,
				ProxyPort:   port,
				UpBandwidth: entry.UpBandwidth,
				Timestamp:   now,
			}
			if err := ing.store.InsertBandwidthSample(ctx, sample); err != nil {
				log.Printf("error saving bandwidth sample for %s:%d: %v", entry.IP, port, err)
				continue
			}
			collected++
		}
	}

	return &models.IngestResult{Collected: collected, TotalLiveIPs: len(liveIPs)}, nil
}

// fetchSnapshot performs the single external GET under the fetch deadline.
func (ing *Ingestor) fetchSnapshot(ctx context.Context) ([]snapshotEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ing.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build bandwidth request: %w", err)
	}
	resp, err := ing.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bandwidth api request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bandwidth api returned status %d", resp.StatusCode)
	}
	var entries []snapshotEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode bandwidth snapshot: %w", err)
	}
	return entries, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
