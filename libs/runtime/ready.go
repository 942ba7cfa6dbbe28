package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

type readyReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewBaseMuxWithReady serves /healthz and a /readyz that runs every check in parallel
// with a shared two second budget.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		report := readyReport{Status: "ok", Checks: map[string]string{}}
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, check := range checks {
			if check.Check == nil {
				continue
			}
			name := check.Name
			if name == "" {
				name = "dependency"
			}
			wg.Add(1)
			go func(name string, fn func(context.Context) error) {
				defer wg.Done()
				result := "ok"
				if err := fn(ctx); err != nil {
					result = err.Error()
				}
				mu.Lock()
				report.Checks[name] = result
				if result != "ok" {
					report.Status = "unavailable"
				}
				mu.Unlock()
			}(name, check.Check)
		}
		wg.Wait()

		w.Header().Set("Content-Type", "application/json")
		if report.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
	return mux
}
