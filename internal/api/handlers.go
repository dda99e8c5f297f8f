package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"proxywatch/internal/bandwidth"
	"proxywatch/internal/models"
	"proxywatch/internal/storage"
	"proxywatch/internal/topology"
)

// Collector runs one log-collection pass over the fleet.
type Collector interface {
	CollectAll(ctx context.Context) *models.CollectionSummary
}

// Ingestor runs one bandwidth-ingestion cycle.
type Ingestor interface {
	Collect(ctx context.Context) (*models.IngestResult, error)
}

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	collector  Collector
	ingestor   Ingestor
	aggregator *bandwidth.Aggregator
	store      storage.Storer
	topo       topology.Provider
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(collector Collector, ingestor Ingestor, aggregator *bandwidth.Aggregator, store storage.Storer, topo topology.Provider) *Handlers {
	return &Handlers{
		collector:  collector,
		ingestor:   ingestor,
		aggregator: aggregator,
		store:      store,
		topo:       topo,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Collect triggers one collection run and returns the per-target results.
func (h *Handlers) Collect(w http.ResponseWriter, r *http.Request) {
	summary := h.collector.CollectAll(r.Context())
	writeJSON(w, http.StatusOK, summary)
}

// CollectBandwidth triggers one bandwidth ingestion cycle.
func (h *Handlers) CollectBandwidth(w http.ResponseWriter, r *http.Request) {
	result, err := h.ingestor.Collect(r.Context())
	if err != nil {
		log.Printf("bandwidth collection failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"collected":      result.Collected,
		"total_live_ips": result.TotalLiveIPs,
	})
}

// RankedIPs returns a page of the ranked per-IP bandwidth listing for a port.
func (h *Handlers) RankedIPs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	port, err := strconv.Atoi(q.Get("port"))
	if err != nil || port <= 0 {
		http.Error(w, "port is required", http.StatusBadRequest)
		return
	}
	offset := intParam(q.Get("offset"), 0)
	limit := intParam(q.Get("limit"), 50)

	result, err := h.aggregator.RankedIPs(r.Context(), port, offset, limit, parseWindow(q.Get("start"), q.Get("end")))
	if err != nil {
		log.Printf("ranked IPs query error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Series returns the recent bandwidth samples for one (IP, port) pair,
// oldest first.
func (h *Handlers) Series(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ip := q.Get("ip")
	if ip == "" {
		http.Error(w, "ip is required", http.StatusBadRequest)
		return
	}
	port, err := strconv.Atoi(q.Get("port"))
	if err != nil || port <= 0 {
		http.Error(w, "port is required", http.StatusBadRequest)
		return
	}
	limit := intParam(q.Get("limit"), 100)

	samples, err := h.aggregator.Series(r.Context(), ip, port, limit, parseWindow(q.Get("start"), q.Get("end")))
	if err != nil {
		log.Printf("series query error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []models.BandwidthSample `json:"items"`
	}{Items: samples})
}

// GroupSeries returns the aggregated bandwidth series for a group.
func (h *Handlers) GroupSeries(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	if group == "" {
		http.Error(w, "group is required", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 100)

	points, err := h.aggregator.GroupSeries(r.Context(), group, limit, parseWindow(q.Get("start"), q.Get("end")))
	if err != nil {
		log.Printf("group series query error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Group string                    `json:"group"`
		Label string                    `json:"label"`
		Items []models.GroupSeriesPoint `json:"items"`
	}{Group: group, Label: h.topo.GroupLabel(group), Items: points})
}

// ListErrorLogs returns persisted error records, newest first, with cursor
// pagination.
func (h *Handlers) ListErrorLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	var beforeTime time.Time
	var beforeID string
	if token := q.Get("page_token"); token != "" {
		// token is base64 of "<rfc3339nano>|<id>"
		if decoded, err := base64.URLEncoding.DecodeString(token); err == nil {
			parts := strings.SplitN(string(decoded), "|", 2)
			if len(parts) == 2 {
				if t, err := time.Parse(time.RFC3339Nano, parts[0]); err == nil {
					beforeTime = t
					beforeID = parts[1]
				}
			}
		}
	}

	items, err := h.store.ListErrorLogs(r.Context(), storage.ListErrorLogsParams{
		ServerIP:   q.Get("server_ip"),
		BeforeTime: beforeTime,
		BeforeID:   beforeID,
		Limit:      limit,
	})
	if err != nil {
		log.Printf("list error logs error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := struct {
		Items         []models.ErrorLogRecord `json:"items"`
		NextPageToken string                  `json:"next_page_token"`
	}{Items: items}

	if len(items) == limit {
		last := items[len(items)-1]
		cursor := last.OriginalTimestamp.UTC().Format(time.RFC3339Nano) + "|" + last.ID
		resp.NextPageToken = base64.URLEncoding.EncodeToString([]byte(cursor))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStats returns data-set totals plus the current live IP count.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		log.Printf("stats query error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	stats.LiveIPCount = len(h.topo.Targets())
	writeJSON(w, http.StatusOK, stats)
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func intParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return fallback
}

// parseWindow builds the optional inclusive time window from start/end query
// parameters. Both bounds are required together; otherwise no window applies.
// Values parse as RFC3339 or as a plain date, where a date-only end bound
// covers the whole day.
func parseWindow(start, end string) *storage.TimeRange {
	if start == "" || end == "" {
		return nil
	}
	s, sOK := parseTimeParam(start)
	e, eOK := parseTimeParam(end)
	if !sOK || !eOK {
		return nil
	}
	if len(end) == len("2006-01-02") {
		e = e.Add(24*time.Hour - time.Second)
	}
	return &storage.TimeRange{Start: s, End: e}
}

func parseTimeParam(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
