package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/maildesk/maildesk-go/internal/logging"
)

// probeTimeout bounds each dependency probe run by the readiness endpoint.
const probeTimeout = 5 * time.Second

// Pinger is a named dependency probe run by GET /api/ready.
type Pinger interface {
	// Ping reports whether the dependency is reachable.
	Ping(ctx context.Context) error
	// Name identifies the dependency in the readiness response.
	Name() string
}

// namedPinger adapts a plain probe function into a Pinger.
type namedPinger struct {
	name string
	ping func(ctx context.Context) error
}

func (p namedPinger) Ping(ctx context.Context) error { return p.ping(ctx) }
func (p namedPinger) Name() string                   { return p.name }

// NamedPinger wraps a probe function as a Pinger with the given name.
func NamedPinger(name string, ping func(ctx context.Context) error) Pinger {
	return namedPinger{name: name, ping: ping}
}

// handleHealth is the liveness probe. It always returns 200 as long as the
// process is serving requests; it checks no dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady is the readiness probe. It pings every configured dependency
// and returns 200 only when all of them respond; otherwise 503 with a
// per-dependency breakdown.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make(map[string]string, len(s.pingers))
	ready := true
	for _, p := range s.pingers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Ping(ctx)
		cancel()

		if err != nil {
			ready = false
			checks[p.Name()] = err.Error()
			log.Warn("readiness probe failed",
				slog.String("dependency", p.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		checks[p.Name()] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
	})
}
