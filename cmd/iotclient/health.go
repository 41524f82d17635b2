package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/iot-relay/internal/archive"
	"github.com/rickgao/iot-relay/internal/connection"
)

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(sup *connection.Supervisor, writer *archive.Writer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if sup.IsConnected() {
			health.Components["relay"] = map[string]any{
				"status":     "connected",
				"generation": sup.Generation(),
			}
		} else {
			health.Status = "degraded"
			health.Components["relay"] = map[string]any{
				"status":     "disconnected",
				"generation": sup.Generation(),
			}
		}

		if writer != nil {
			stats := writer.Stats()
			health.Components["archive"] = map[string]any{
				"queued":  stats.Buffer.Count,
				"dropped": stats.Buffer.Dropped,
				"errors":  stats.Errors,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"relay": sup.Counters().Snapshot(),
		}
		if writer != nil {
			out["archive"] = writer.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	return mux
}
