package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/itsthedevman/esm-arma/internal/settings"
)

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.metrics)

	if envBool("ESM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/settings", a.loopbackOnly(a.settingsState))
		mux.HandleFunc("/admin/v1/settings/reload", a.loopbackOnly(a.settingsReload))
	} else {
		a.log.Printf("admin endpoints disabled (ESM_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("ESM_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", a.ws.Handler())
	return mux
}

func (a *app) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	d := a.dispatch.Stats()
	fmt.Fprintf(rw, "# HELP esm_dispatch_total Requests by dispatch outcome.\n")
	fmt.Fprintf(rw, "# TYPE esm_dispatch_total counter\n")
	fmt.Fprintf(rw, "esm_dispatch_total{outcome=%q} %d\n", "dispatched", d.Dispatched)
	fmt.Fprintf(rw, "esm_dispatch_total{outcome=%q} %d\n", "rejected", d.Rejected)
	fmt.Fprintf(rw, "esm_dispatch_total{outcome=%q} %d\n", "not_implemented", d.NotImplemented)
	fmt.Fprintf(rw, "esm_dispatch_total{outcome=%q} %d\n", "retried", d.Retried)
	fmt.Fprintf(rw, "esm_dispatch_total{outcome=%q} %d\n", "handled", d.Handled)
	fmt.Fprintf(rw, "esm_dispatch_total{outcome=%q} %d\n", "internal", d.Internal)

	au := a.audit.Stats()
	fmt.Fprintf(rw, "# HELP esm_audit_total Audit entries by outcome.\n")
	fmt.Fprintf(rw, "# TYPE esm_audit_total counter\n")
	fmt.Fprintf(rw, "esm_audit_total{outcome=%q} %d\n", "recorded", au.Recorded)
	fmt.Fprintf(rw, "esm_audit_total{outcome=%q} %d\n", "gated", au.Gated)
	fmt.Fprintf(rw, "esm_audit_total{outcome=%q} %d\n", "dropped", au.Dropped)
	fmt.Fprintf(rw, "esm_audit_total{outcome=%q} %d\n", "sink_failed", au.Failed)

	w := a.ws.Stats()
	fmt.Fprintf(rw, "# HELP esm_ws_total Websocket transport counters.\n")
	fmt.Fprintf(rw, "# TYPE esm_ws_total counter\n")
	fmt.Fprintf(rw, "esm_ws_total{event=%q} %d\n", "connection", w.Connections)
	fmt.Fprintf(rw, "esm_ws_total{event=%q} %d\n", "rejected", w.Rejected)
	fmt.Fprintf(rw, "esm_ws_total{event=%q} %d\n", "request", w.Requests)
	fmt.Fprintf(rw, "esm_ws_total{event=%q} %d\n", "bad_frame", w.BadFrames)
	fmt.Fprintf(rw, "esm_ws_total{event=%q} %d\n", "dropped_response", w.DroppedResponses)

	if m := a.backend.mirror; m != nil {
		st := m.Stats()
		fmt.Fprintf(rw, "# HELP esm_archive_total Audit archive uploads by outcome.\n")
		fmt.Fprintf(rw, "# TYPE esm_archive_total counter\n")
		fmt.Fprintf(rw, "esm_archive_total{outcome=%q} %d\n", "enqueued", st.Enqueued)
		fmt.Fprintf(rw, "esm_archive_total{outcome=%q} %d\n", "dropped", st.Dropped)
		fmt.Fprintf(rw, "esm_archive_total{outcome=%q} %d\n", "uploaded", st.Uploaded)
		fmt.Fprintf(rw, "esm_archive_total{outcome=%q} %d\n", "failed", st.UploadFailed)
		fmt.Fprintf(rw, "# TYPE esm_archive_queue_depth gauge\n")
		fmt.Fprintf(rw, "esm_archive_queue_depth %d\n", st.QueueDepth)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if counts, st, ok := a.backend.storeCounts(ctx); ok {
		fmt.Fprintf(rw, "# HELP esm_store_rows Row count per sqlite table.\n")
		fmt.Fprintf(rw, "# TYPE esm_store_rows gauge\n")
		tables := make([]string, 0, len(counts))
		for t := range counts {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			fmt.Fprintf(rw, "esm_store_rows{table=%q} %d\n", t, counts[t])
		}
		fmt.Fprintf(rw, "# HELP esm_store_applies_total Store transactions by outcome.\n")
		fmt.Fprintf(rw, "# TYPE esm_store_applies_total counter\n")
		fmt.Fprintf(rw, "esm_store_applies_total{outcome=%q} %d\n", "ok", st.Applies)
		fmt.Fprintf(rw, "esm_store_applies_total{outcome=%q} %d\n", "failed", st.ApplyFailures)
	}
}

type settingsView struct {
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

func (a *app) settingsState(rw http.ResponseWriter, r *http.Request) {
	vals := settings.Snapshot(a.settings.Current())
	out := make([]settingsView, 0, len(vals))
	for _, v := range vals {
		sv := settingsView{Key: v.Name, Kind: string(v.Kind)}
		switch v.Kind {
		case settings.KindString:
			sv.Value = v.Str
		case settings.KindBool:
			sv.Value = v.Bool
		case settings.KindScalar:
			sv.Value = v.Scalar
		case settings.KindArray:
			sv.Value = v.Array
		}
		out = append(out, sv)
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(out)
}

func (a *app) settingsReload(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := a.reloadSettings(); err != nil {
		rw.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
}

func (a *app) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
