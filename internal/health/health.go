// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

const checkTimeout = 2 * time.Second

type Checker func(ctx context.Context) error

type mux interface {
	Handle(pattern string, handler http.Handler)
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Register adds /healthz (liveness) and /readyz (readiness). Readiness runs
// every named check and fails when any of them does.
func Register(mux mux, checks map[string]Checker) {
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		rep, ready := run(ctx, checks)
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(rep)
	}))
}

func run(ctx context.Context, checks map[string]Checker) (report, bool) {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	rep := report{Status: "ok", Checks: make(map[string]string, len(checks))}
	ready := true
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			slog.Warn("readiness check failed", "check", name, "err", err)
			rep.Checks[name] = "failing"
			ready = false
			continue
		}
		rep.Checks[name] = "ok"
	}
	if !ready {
		rep.Status = "not ready"
	}
	return rep, ready
}
