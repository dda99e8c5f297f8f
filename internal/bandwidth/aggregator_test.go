package bandwidth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxywatch/internal/models"
	"proxywatch/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func addSample(store *fakeStore, ip string, port int, bw float64, ts time.Time) {
	store.samples = append(store.samples, models.BandwidthSample{
		IPAddress:   ip,
		ProxyPort:   port,
		UpBandwidth: bw,
		Timestamp:   ts,
	})
}

func TestRankedIPsUnionAndOrder(t *testing.T) {
	store := newFakeStore()
	addSample(store, "10.0.0.1", 8080, 10, t0)
	addSample(store, "10.0.0.1", 8080, 20, t0.Add(time.Minute)) // avg 15
	addSample(store, "10.0.0.3", 8080, 40, t0)                  // avg 40, no longer live

	topo := &fakeTopo{
		byPort:     map[int][]string{8080: {"10.0.0.1", "10.0.0.2"}},
		groupByIP:  map[string]string{"10.0.0.1": "g"},
		portsByGrp: map[string][]int{"g": {8080}},
		labels:     map[string]string{"g": "Group G"},
	}
	agg := NewAggregator(topo, store)

	result, err := agg.RankedIPs(context.Background(), 8080, 0, 10, nil)
	require.NoError(t, err)

	// Descending by average; the live-but-sampleless IP ranks last with 0.
	assert.Equal(t, []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}, result.IPs)
	assert.Equal(t, 3, result.Pagination.Total)

	d1 := result.Details["10.0.0.1"]
	assert.Equal(t, 15.0, d1.Average)
	assert.Equal(t, int64(2), d1.Count)
	assert.True(t, d1.IsLive)
	assert.Equal(t, "g", d1.Group)
	assert.Equal(t, "Group G", d1.GroupLabel)

	d2 := result.Details["10.0.0.2"]
	assert.Equal(t, 0.0, d2.Average)
	assert.True(t, d2.IsLive)
	assert.Equal(t, "Current", d2.GroupLabel)

	d3 := result.Details["10.0.0.3"]
	assert.False(t, d3.IsLive)
	assert.Equal(t, "Unknown", d3.GroupLabel)
}

func TestRankedIPsPaginationIsDisjointAndOrderConsistent(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 6; i++ {
		addSample(store, ipN(i), 8080, float64(60-i*10), t0)
	}
	topo := &fakeTopo{byPort: map[int][]string{}}
	agg := NewAggregator(topo, store)

	first, err := agg.RankedIPs(context.Background(), 8080, 0, 3, nil)
	require.NoError(t, err)
	second, err := agg.RankedIPs(context.Background(), 8080, 3, 3, nil)
	require.NoError(t, err)

	require.Len(t, first.IPs, 3)
	require.Len(t, second.IPs, 3)
	seen := map[string]bool{}
	for _, ip := range append(append([]string{}, first.IPs...), second.IPs...) {
		assert.False(t, seen[ip], "ip %s returned twice", ip)
		seen[ip] = true
	}

	full, err := agg.RankedIPs(context.Background(), 8080, 0, 6, nil)
	require.NoError(t, err)
	assert.Equal(t, full.IPs[:3], first.IPs)
	assert.Equal(t, full.IPs[3:], second.IPs)
}

func ipN(i int) string {
	return []string{"10.1.0.1", "10.1.0.2", "10.1.0.3", "10.1.0.4", "10.1.0.5", "10.1.0.6"}[i]
}

func TestRankedIPsOffsetPastEnd(t *testing.T) {
	store := newFakeStore()
	addSample(store, "10.0.0.1", 8080, 10, t0)
	agg := NewAggregator(&fakeTopo{byPort: map[int][]string{}}, store)

	result, err := agg.RankedIPs(context.Background(), 8080, 50, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, result.IPs)
	assert.Equal(t, 1, result.Pagination.Total)
}

func TestRankedIPsRequiresPort(t *testing.T) {
	agg := NewAggregator(&fakeTopo{}, newFakeStore())
	_, err := agg.RankedIPs(context.Background(), 0, 0, 10, nil)
	assert.Error(t, err)
}

func TestRankedIPsWindow(t *testing.T) {
	store := newFakeStore()
	addSample(store, "10.0.0.1", 8080, 100, t0.Add(-48*time.Hour))
	addSample(store, "10.0.0.1", 8080, 10, t0)
	agg := NewAggregator(&fakeTopo{byPort: map[int][]string{}}, store)

	window := &storage.TimeRange{Start: t0.Add(-time.Hour), End: t0.Add(time.Hour)}
	result, err := agg.RankedIPs(context.Background(), 8080, 0, 10, window)
	require.NoError(t, err)
	assert.Equal(t, 10.0, result.Details["10.0.0.1"].Average)
	assert.Equal(t, int64(1), result.Details["10.0.0.1"].Count)
}

func TestRankedIPsPropagatesStorageError(t *testing.T) {
	store := newFakeStore()
	store.queryErr = errors.New("db gone")
	agg := NewAggregator(&fakeTopo{}, store)
	_, err := agg.RankedIPs(context.Background(), 8080, 0, 10, nil)
	assert.ErrorContains(t, err, "db gone")
}

func TestSeriesIsChronological(t *testing.T) {
	store := newFakeStore()
	addSample(store, "10.0.0.1", 8080, 1, t0)
	addSample(store, "10.0.0.1", 8080, 2, t0.Add(time.Minute))
	addSample(store, "10.0.0.1", 8080, 3, t0.Add(2*time.Minute))
	agg := NewAggregator(&fakeTopo{}, store)

	samples, err := agg.Series(context.Background(), "10.0.0.1", 8080, 10, nil)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, 1.0, samples[0].UpBandwidth)
	assert.Equal(t, 3.0, samples[2].UpBandwidth)
}

func TestSeriesLimitKeepsMostRecent(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		addSample(store, "10.0.0.1", 8080, float64(i), t0.Add(time.Duration(i)*time.Minute))
	}
	agg := NewAggregator(&fakeTopo{}, store)

	samples, err := agg.Series(context.Background(), "10.0.0.1", 8080, 2, nil)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	// The two newest, ascending.
	assert.Equal(t, 3.0, samples[0].UpBandwidth)
	assert.Equal(t, 4.0, samples[1].UpBandwidth)
}

func TestGroupSeriesAggregatesByExactTimestamp(t *testing.T) {
	store := newFakeStore()
	addSample(store, "10.0.0.1", 8080, 10, t0)
	addSample(store, "10.0.0.2", 8080, 30, t0) // same instant: avg 20, count 2
	addSample(store, "10.0.0.1", 8080, 7, t0.Add(time.Minute))

	topo := &fakeTopo{ipsByGrp: map[string][]string{"g": {"10.0.0.1", "10.0.0.2"}}}
	agg := NewAggregator(topo, store)

	points, err := agg.GroupSeries(context.Background(), "g", 10, nil)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.True(t, points[0].Timestamp.Equal(t0))
	assert.Equal(t, 20.0, points[0].Average)
	assert.Equal(t, 2, points[0].Count)

	assert.True(t, points[1].Timestamp.Equal(t0.Add(time.Minute)))
	assert.Equal(t, 7.0, points[1].Average)
	assert.Equal(t, 1, points[1].Count)
}

func TestGroupSeriesEmptyGroup(t *testing.T) {
	agg := NewAggregator(&fakeTopo{}, newFakeStore())
	points, err := agg.GroupSeries(context.Background(), "nope", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestGroupSeriesLimit(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		addSample(store, "10.0.0.1", 8080, float64(i), t0.Add(time.Duration(i)*time.Minute))
	}
	topo := &fakeTopo{ipsByGrp: map[string][]string{"g": {"10.0.0.1"}}}
	agg := NewAggregator(topo, store)

	points, err := agg.GroupSeries(context.Background(), "g", 3, nil)
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func TestGroupSeriesPropagatesStorageError(t *testing.T) {
	store := newFakeStore()
	store.queryErr = errors.New("db gone")
	topo := &fakeTopo{ipsByGrp: map[string][]string{"g": {"10.0.0.1"}}}
	agg := NewAggregator(topo, store)

	_, err := agg.GroupSeries(context.Background(), "g", 10, nil)
	assert.ErrorContains(t, err, "db gone")
}
