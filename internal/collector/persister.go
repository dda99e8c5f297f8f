package collector

import (
	"context"
	"errors"
	"log"
	"sync"

	"proxywatch/internal/models"
	"proxywatch/internal/storage"
)

const (
	// persistBatchSize caps how many insert attempts run concurrently.
	persistBatchSize = 50
	// maxFieldLen is the stored length cap for upstream and request values.
	maxFieldLen      = 5000
	truncationMarker = "...[truncated]"
)

type saveOutcome int

const (
	outcomeSaved saveOutcome = iota
	outcomeDuplicate
	outcomeDropped
)

// Persister writes admitted error records to storage with best-effort
// deduplication. Individual record failures never fail a Save call.
type Persister struct {
	store storage.Storer
}

// NewPersister creates a Persister backed by the given store.
func NewPersister(store storage.Storer) *Persister {
	return &Persister{store: store}
}

// Save persists records in batches of 50: all inserts within a batch run
// concurrently, batches run sequentially. The admission filter (level
// "error", non-empty upstream) is re-applied defensively; over-long upstream
// and request values are truncated with a marker rather than rejected.
// Returns the saved and duplicate counts.
func (p *Persister) Save(ctx context.Context, records []models.ErrorLogRecord) (saved, duplicates int) {
	admitted := make([]models.ErrorLogRecord, 0, len(records))
	for _, rec := range records {
		if rec.LogLevel != "error" || rec.Upstream == "" {
			continue
		}
		rec.Upstream = truncate(rec.Upstream)
		rec.Request = truncate(rec.Request)
		admitted = append(admitted, rec)
	}

	var mu sync.Mutex
	for start := 0; start < len(admitted); start += persistBatchSize {
		end := min(start+persistBatchSize, len(admitted))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(rec models.ErrorLogRecord) {
				defer wg.Done()
				outcome := p.saveOne(ctx, &rec)
				mu.Lock()
				switch outcome {
				case outcomeSaved:
					saved++
				case outcomeDuplicate:
					duplicates++
				}
				mu.Unlock()
			}(admitted[i])
		}
		wg.Wait()
	}
	return saved, duplicates
}

// saveOne checks the dedup key and inserts the record. A failed dedup read
// fails open (treated as not-duplicate); a unique-constraint conflict on
// insert is a benign race, counted as duplicate. Any other storage error
// drops the record without retry.
func (p *Persister) saveOne(ctx context.Context, rec *models.ErrorLogRecord) saveOutcome {
	key := storage.ErrorLogKey{
		ServerIP:          rec.ServerIP,
		OriginalTimestamp: rec.OriginalTimestamp,
		ErrorMessage:      rec.ErrorMessage,
		ClientIP:          rec.ClientIP,
	}
	dup, err := p.store.HasErrorLog(ctx, key)
	if err != nil {
		log.Printf("dedup check failed for %s, assuming new record: %v", rec.ServerIP, err)
	} else if dup {
		return outcomeDuplicate
	}

	if err := p.store.InsertErrorLog(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return outcomeDuplicate
		}
		log.Printf("error saving log record for %s: %v", rec.ServerIP, err)
		return outcomeDropped
	}
	return outcomeSaved
}

func truncate(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	return s[:maxFieldLen] + truncationMarker
}
