package core

import (
	"context"
	"net/http"
	"sync"
	"time"

	"habitly/internal/types"
)

const healthProbeTimeout = 2 * time.Second

// HealthProbe is a named dependency check.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewProbe adapts a pinger such as a pgx pool or redis client wrapper.
func NewProbe(name string, p types.HealthProber) HealthProbe {
	return HealthProbe{Name: name, Check: p.Ping}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// HandleHealth runs every probe concurrently and reports 503 if any fails.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		healthy    = true
		components = make(map[string]string, len(s.HealthProbes))
	)
	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			status := "ok"
			if err := p.Check(ctx); err != nil {
				status = "unhealthy"
				s.Logger.Warn("health probe failed", "component", p.Name, "error", err)
			}
			mu.Lock()
			components[p.Name] = status
			if status != "ok" {
				healthy = false
			}
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	resp := HealthResponse{Status: "healthy", Components: components, Timestamp: time.Now().UTC()}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}
