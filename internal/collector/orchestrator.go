package collector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"proxywatch/internal/models"
	"proxywatch/internal/remote"
	"proxywatch/internal/storage"
	"proxywatch/internal/topology"
)

const (
	// targetGroupSize bounds how many fleet targets are polled concurrently.
	targetGroupSize = 5
	// groupPause is the pause between target groups, a simple rate limiter.
	groupPause = 100 * time.Millisecond
)

// Prober tests whether a target accepts remote sessions.
type Prober interface {
	Probe(ctx context.Context, target models.RemoteTarget) remote.ProbeResult
}

// Harvester reads and parses a target's remote error log.
type Harvester interface {
	Fetch(ctx context.Context, target models.RemoteTarget, since *time.Time) ([]models.ErrorLogRecord, error)
}

// Credentials are the fixed SSH credentials used for every fleet target.
type Credentials struct {
	User     string
	Password string
	Port     int
}

// Orchestrator runs one fault-isolated collection pass over the fleet:
// probe, harvest, dedup, persist, per target. One bad server never blocks
// its siblings or the run.
type Orchestrator struct {
	topo      topology.Provider
	prober    Prober
	harvester Harvester
	store     storage.Storer
	persister *Persister
	creds     Credentials
}

// NewOrchestrator wires a collection orchestrator.
func NewOrchestrator(topo topology.Provider, prober Prober, harvester Harvester, store storage.Storer, creds Credentials) *Orchestrator {
	return &Orchestrator{
		topo:      topo,
		prober:    prober,
		harvester: harvester,
		store:     store,
		persister: NewPersister(store),
		creds:     creds,
	}
}

// CollectAll polls every live IP reported by the topology provider, in
// groups of 5 with a short pause between groups. Each target settles to
// exactly one terminal CollectionResult; a failure or panic in one target
// yields a result with status error for that target alone.
func (o *Orchestrator) CollectAll(ctx context.Context) *models.CollectionSummary {
	start := time.Now()
	summary := &models.CollectionSummary{RunID: uuid.NewString()}

	ips, err := o.topo.IPList(ctx)
	if err != nil {
		log.Printf("error fetching live IP list: %v", err)
		summary.Results = []models.CollectionResult{{
			Status: models.StatusError,
			Error:  fmt.Sprintf("topology provider: %v", err),
		}}
		summary.DurationMS = time.Since(start).Milliseconds()
		return summary
	}
	if len(ips) == 0 {
		summary.Results = []models.CollectionResult{{Status: models.StatusNoServers}}
		summary.DurationMS = time.Since(start).Milliseconds()
		return summary
	}

	log.Printf("starting collection run %s for %d servers", summary.RunID, len(ips))
	results := make([]models.CollectionResult, len(ips))
	for groupStart := 0; groupStart < len(ips); groupStart += targetGroupSize {
		groupEnd := min(groupStart+targetGroupSize, len(ips))
		var wg sync.WaitGroup
		for i := groupStart; i < groupEnd; i++ {
			wg.Add(1)
			go func(idx int, ip string) {
				defer wg.Done()
				results[idx] = o.collectOne(ctx, ip)
			}(i, ips[i])
		}
		wg.Wait()
		if groupEnd < len(ips) {
			select {
			case <-time.After(groupPause):
			case <-ctx.Done():
			}
		}
	}

	summary.Results = results
	for _, r := range results {
		summary.TotalSaved += r.LogsSaved
	}
	summary.DurationMS = time.Since(start).Milliseconds()
	log.Printf("collection run %s finished: %d logs saved in %dms", summary.RunID, summary.TotalSaved, summary.DurationMS)
	return summary
}

// collectOne processes a single target to a terminal result. It never
// panics out: an unexpected failure settles as status error.
func (o *Orchestrator) collectOne(ctx context.Context, ip string) (result models.CollectionResult) {
	start := time.Now()
	result = models.CollectionResult{ServerIP: ip}
	defer func() {
		if r := recover(); r != nil {
			result.Status = models.StatusError
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.DurationMS = time.Since(start).Milliseconds()
	}()

	target := models.RemoteTarget{
		Host:     ip,
		Port:     o.creds.Port,
		User:     o.creds.User,
		Password: o.creds.Password,
	}

	probe := o.prober.Probe(ctx, target)
	if !probe.Alive {
		result.Status = models.StatusOffline
		result.Error = probe.Reason
		return result
	}

	// The last persisted timestamp and the full harvest are independent
	// reads; run them concurrently and apply the bound locally.
	var (
		wg         sync.WaitGroup
		since      *time.Time
		records    []models.ErrorLogRecord
		harvestErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ts, err := o.store.LastErrorLogTime(ctx, ip)
		if err != nil {
			log.Printf("error fetching last log timestamp for %s: %v", ip, err)
			return
		}
		since = ts
	}()
	go func() {
		defer wg.Done()
		records, harvestErr = o.harvester.Fetch(ctx, target, nil)
	}()
	wg.Wait()

	if harvestErr != nil {
		result.Status = models.StatusError
		result.Error = harvestErr.Error()
		return result
	}

	if since != nil {
		fresh := records[:0]
		for _, rec := range records {
			if rec.OriginalTimestamp.After(*since) {
				fresh = append(fresh, rec)
			}
		}
		records = fresh
	}

	if len(records) == 0 {
		result.Status = models.StatusNoNewLogs
		return result
	}

	saved, duplicates := o.persister.Save(ctx, records)
	result.LogsSaved = saved
	result.Duplicates = duplicates
	result.Filtered = len(records) - saved - duplicates
	if saved == 0 {
		result.Status = models.StatusNoRelevantLogs
		return result
	}
	result.Status = models.StatusSuccess
	return result
}
