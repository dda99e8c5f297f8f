package api

import (
	"net/http"
)

// NewRouter creates a new http.ServeMux and registers the API handlers.
func NewRouter(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/collect", h.Collect)
	mux.HandleFunc("POST /v1/bandwidth/collect", h.CollectBandwidth)
	mux.HandleFunc("GET /v1/bandwidth/ranked", h.RankedIPs)
	mux.HandleFunc("GET /v1/bandwidth/series", h.Series)
	mux.HandleFunc("GET /v1/bandwidth/groups/{group}/series", h.GroupSeries)
	mux.HandleFunc("GET /v1/logs", h.ListErrorLogs)
	mux.HandleFunc("GET /v1/stats", h.GetStats)
	mux.HandleFunc("GET /healthz", h.Healthz)

	return mux
}
