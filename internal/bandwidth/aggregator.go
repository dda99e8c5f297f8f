package bandwidth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"proxywatch/internal/models"
	"proxywatch/internal/storage"
	"proxywatch/internal/topology"
)

// seriesFanout bounds how many member IPs a group series fetches concurrently.
const seriesFanout = 8

// Aggregator answers the dashboard's ranked-list and time-series queries
// from persisted samples plus the live topology.
type Aggregator struct {
	topo  topology.Provider
	store storage.Storer
}

// NewAggregator creates an Aggregator.
func NewAggregator(topo topology.Provider, store storage.Storer) *Aggregator {
	return &Aggregator{topo: topo, store: store}
}

// RankedIPs computes the per-IP average bandwidth and sample count for one
// proxy port over the optional window, unions that set with the IPs
// currently live on the port (a live IP with no samples ranks with average
// 0), sorts descending by average, and returns the [offset, offset+limit)
// slice. Ties keep union-insertion order.
func (a *Aggregator) RankedIPs(ctx context.Context, proxyPort, offset, limit int, window *storage.TimeRange) (*models.RankedIPsResult, error) {
	if proxyPort <= 0 {
		return nil, fmt.Errorf("proxy port is required")
	}
	averages, err := a.store.BandwidthAverages(ctx, storage.BandwidthAveragesParams{
		ProxyPort: proxyPort,
		Window:    window,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load bandwidth averages: %w", err)
	}

	live := a.topo.TargetsForPort(proxyPort)
	liveSet := make(map[string]struct{}, len(live))
	for _, ip := range live {
		liveSet[ip] = struct{}{}
	}

	order := make([]string, 0, len(averages)+len(live))
	details := make(map[string]models.IPBandwidthDetail, len(averages)+len(live))
	for _, avg := range averages {
		order = append(order, avg.IPAddress)
		details[avg.IPAddress] = a.detail(avg.IPAddress, avg.Average, avg.Count, liveSet)
	}
	for _, ip := range live {
		if _, ok := details[ip]; ok {
			continue
		}
		order = append(order, ip)
		details[ip] = a.detail(ip, 0, 0, liveSet)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return details[order[i]].Average > details[order[j]].Average
	})

	total := len(order)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	page := order[offset:end]

	pageDetails := make(map[string]models.IPBandwidthDetail, len(page))
	for _, ip := range page {
		pageDetails[ip] = details[ip]
	}
	return &models.RankedIPsResult{
		IPs:     page,
		Details: pageDetails,
		Pagination: models.Pagination{
			Offset: offset,
			Limit:  limit,
			Total:  total,
		},
	}, nil
}

func (a *Aggregator) detail(ip string, average float64, count int64, liveSet map[string]struct{}) models.IPBandwidthDetail {
	_, isLive := liveSet[ip]
	d := models.IPBandwidthDetail{
		Average: average,
		Count:   count,
		IsLive:  isLive,
	}
	if group, ok := a.topo.GroupForIP(ip); ok {
		d.Group = group
		d.GroupLabel = a.topo.GroupLabel(group)
		if d.GroupLabel == "" {
			d.GroupLabel = group
		}
	} else if isLive {
		d.GroupLabel = "Current"
	} else {
		d.GroupLabel = "Unknown"
	}
	return d
}

// Series returns the limit most recent samples for one (IP, port) pair
// within the optional window, in ascending chronological order.
func (a *Aggregator) Series(ctx context.Context, ip string, proxyPort, limit int, window *storage.TimeRange) ([]models.BandwidthSample, error) {
	samples, err := a.store.ListBandwidthSamples(ctx, storage.ListSamplesParams{
		IPAddress: ip,
		ProxyPort: proxyPort,
		Window:    window,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load bandwidth series for %s: %w", ip, err)
	}
	// Storage returns newest first; the dashboard charts ascending.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// GroupSeries aggregates the bandwidth of all member IPs of a group by exact
// timestamp equality: one point per distinct instant, carrying the average
// and the number of members that reported at that instant. Member series are
// fetched 8 IPs at a time. Results are ascending, capped at limit.
//
// Exact-timestamp alignment assumes members of a cycle land on the same
// collection instant; slow or partial collection produces gaps.
func (a *Aggregator) GroupSeries(ctx context.Context, group string, limit int, window *storage.TimeRange) ([]models.GroupSeriesPoint, error) {
	members := a.topo.TargetsForGroup(group)
	if len(members) == 0 {
		return []models.GroupSeriesPoint{}, nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		byIP     = make([][]models.BandwidthSample, len(members))
	)
	sem := make(chan struct{}, seriesFanout)
	for i, ip := range members {
		wg.Add(1)
		go func(idx int, ip string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			samples, err := a.store.ListBandwidthSamples(ctx, storage.ListSamplesParams{
				IPAddress: ip,
				Window:    window,
				Limit:     limit,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to load samples for %s: %w", ip, err)
				return
			}
			byIP[idx] = samples
		}(i, ip)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	type bucket struct {
		sum   float64
		count int
	}
	buckets := make(map[time.Time]*bucket)
	for _, samples := range byIP {
		for _, s := range samples {
			ts := s.Timestamp.UTC()
			b, ok := buckets[ts]
			if !ok {
				b = &bucket{}
				buckets[ts] = b
			}
			b.sum += s.UpBandwidth
			b.count++
		}
	}

	points := make([]models.GroupSeriesPoint, 0, len(buckets))
	for ts, b := range buckets {
		points = append(points, models.GroupSeriesPoint{
			Timestamp: ts,
			Average:   b.sum / float64(b.count),
			Count:     b.count,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}
