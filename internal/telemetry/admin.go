package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

type AdminServerOptions struct {
	Addr string

	Metrics  *MetricsCollector
	Tunnels  *TunnelRegistry
	Logs     interface {
		Snapshot(limit int) []string
	}

	Health func() bool
}

type AdminServer struct {
	opts AdminServerOptions
	srv  *http.Server
}

func NewAdminServer(opts AdminServerOptions) *AdminServer {
	as := &AdminServer{opts: opts}
	as.srv = &http.Server{Addr: opts.Addr, Handler: newAdminMux(as)}
	return as
}

func newAdminMux(as *AdminServer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if as.opts.Health != nil && !as.opts.Health() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(as.opts.Metrics.Snapshot())
	})

	mux.HandleFunc("/tunnels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(as.opts.Tunnels.Snapshot())
	})

	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		if as.opts.Logs == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		limit := 200
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		if limit <= 0 {
			limit = 200
		}
		if limit > 5000 {
			limit = 5000
		}
		resp := struct {
			Lines   []string `json:"lines"`
			Dropped uint64   `json:"dropped,omitempty"`
		}{}
		if ctx := r.URL.Query().Get("ctx"); ctx != "" {
			if f, ok := as.opts.Logs.(interface {
				SnapshotForCtx(ctx string, limit int) []string
			}); ok {
				resp.Lines = f.SnapshotForCtx(ctx, limit)
			} else {
				resp.Lines = as.opts.Logs.Snapshot(limit)
			}
		} else {
			resp.Lines = as.opts.Logs.Snapshot(limit)
		}
		if d, ok := as.opts.Logs.(interface{ Dropped() uint64 }); ok {
			resp.Dropped = d.Dropped()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	return mux
}

func (a *AdminServer) Start() error {
	return a.srv.ListenAndServe()
}

func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}
