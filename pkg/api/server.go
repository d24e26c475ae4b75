// Package api is the controller's HTTP surface: persisted fleet runs,
// run triggering, live progress over websocket, and operator auth.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"patch-fleet/pkg/model"
	"patch-fleet/pkg/report"
)

// RunReader serves persisted runs; satisfied by *report.Store.
type RunReader interface {
	ListRuns(limit int) ([]report.RunRecord, error)
	GetRun(id uint) (model.FleetReport, bool, error)
}

// RegisterRoutes wires the HTTP handlers on the provided mux. runner and
// reader may be nil, which disables the corresponding endpoints.
func RegisterRoutes(mux *http.ServeMux, reader RunReader, runner *Runner, hub *WSHub, requireJWT bool) {
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("patch-fleet controller"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/runs", AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if reader == nil {
				http.Error(w, "run store not configured", http.StatusNotImplemented)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			runs, err := reader.ListRuns(limit)
			if err != nil {
				http.Error(w, "failed to list runs", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, runs)
		case http.MethodPost:
			if runner == nil {
				http.Error(w, "run trigger not configured", http.StatusNotImplemented)
				return
			}
			if err := runner.Start(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}, requireJWT))

	mux.HandleFunc("/api/v1/runs/", AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if reader == nil {
			http.Error(w, "run store not configured", http.StatusNotImplemented)
			return
		}
		idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			http.Error(w, "invalid run id", http.StatusBadRequest)
			return
		}
		rep, ok, err := reader.GetRun(uint(id))
		if err != nil {
			http.Error(w, "failed to load run", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}, requireJWT))

	mux.HandleFunc("/api/v1/status", AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		active := runner != nil && runner.Active()
		writeJSON(w, http.StatusOK, map[string]bool{"runInProgress": active})
	}, requireJWT))

	if hub != nil {
		mux.HandleFunc("/api/v1/ws/runs", hub.HandleWS)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
