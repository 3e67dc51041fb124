package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/greemqtt/internal/gateway"
)

const healthCheckTimeout = 3 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    map[string]string `json:"components,omitempty"`
}

// handleHealth probes each configured component. Any failing probe yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	code := http.StatusOK
	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
	}
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "ok"
	}

	writeJSON(w, code, resp)
}

// handleStatus returns the full bridge status document.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

// handleListDevices returns every started device. Keys are never included.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	st := s.bridge.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": st.Devices,
		"count":   len(st.Devices),
		"missing": st.MissingDevices,
	})
}

// handleGetDevice returns a single started device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	devices := s.bridge.Status().Devices
	i := slices.IndexFunc(devices, func(d gateway.DeviceStatus) bool {
		return d.DeviceID == id
	})
	if i < 0 {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, devices[i])
}
