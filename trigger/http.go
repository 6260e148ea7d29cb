package trigger

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeHTTP runs the pipeline for GET or POST requests on the root path
// and answers with the outcome message as plain text.
func (t *Trigger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Error: method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slog.Info("run requested", slog.String("remote", r.RemoteAddr), slog.String("method", r.Method))
	outcome := t.Execute(r.Context())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(outcome.Status)
	fmt.Fprint(w, outcome.Message)
}

// NewMux exposes the trigger on "/", liveness on "/healthz" and, when the
// trigger has metrics, the Prometheus registry on "/metrics".
func NewMux(t *Trigger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/{$}", t)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "ok")
	})
	if t.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(t.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}
