// Package net exposes the authority over HTTP: the websocket endpoint plus
// health, diagnostics, metrics and config schema routes.
package net

import (
	"encoding/json"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"rewind/internal/net/ws"
	"rewind/internal/server"
	"rewind/internal/store"
	"rewind/internal/telemetry"
	"rewind/logging"
)

type HTTPHandlerConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	// Counters is reported under /diagnostics when set.
	Counters *telemetry.Counters
	// LoggingStats is reported under /diagnostics when set.
	LoggingStats func() logging.RouterStats
	// Metrics serves /metrics when set, typically telemetry.Prometheus.Handler.
	Metrics nethttp.Handler
	// Schema returns the config JSON schema served under /schema.
	Schema func() ([]byte, error)
	// Recorder serves /diagnostics/events when the SQLite store is enabled.
	Recorder  Recorder
	WriteWait time.Duration
}

type Recorder interface {
	Recent(limit int) ([]store.Record, error)
}

const defaultEventsLimit = 100

type sessionResponse struct {
	ID         string    `json:"id"`
	Entity     uint32    `json:"entity"`
	RemoteAddr string    `json:"remoteAddr"`
	Joined     time.Time `json:"joined"`
}

func NewHTTPHandler[I any](srv *server.Server[I], cfg HTTPHandlerConfig) nethttp.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}).Methods(nethttp.MethodGet)

	r.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string               `json:"status"`
			ServerTime int64                `json:"serverTime"`
			Server     server.Stats         `json:"server"`
			Telemetry  map[string]uint64    `json:"telemetry,omitempty"`
			Logging    *logging.RouterStats `json:"logging,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Server:     srv.Stats(),
		}
		if cfg.Counters != nil {
			payload.Telemetry = cfg.Counters.Snapshot()
		}
		if cfg.LoggingStats != nil {
			stats := cfg.LoggingStats()
			payload.Logging = &stats
		}
		writeJSON(w, payload)
	}).Methods(nethttp.MethodGet)

	if cfg.Recorder != nil {
		r.HandleFunc("/diagnostics/events", func(w nethttp.ResponseWriter, r *nethttp.Request) {
			limit := defaultEventsLimit
			if raw := r.URL.Query().Get("limit"); raw != "" {
				value, err := strconv.Atoi(raw)
				if err != nil || value <= 0 {
					httpError(w, "invalid limit", nethttp.StatusBadRequest)
					return
				}
				limit = value
			}
			records, err := cfg.Recorder.Recent(limit)
			if err != nil {
				httpError(w, "failed to query events", nethttp.StatusInternalServerError)
				return
			}
			if records == nil {
				records = []store.Record{}
			}
			writeJSON(w, struct {
				Events []store.Record `json:"events"`
			}{Events: records})
		}).Methods(nethttp.MethodGet)
	}

	r.HandleFunc("/sessions/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		vars := mux.Vars(r)
		id, err := uuid.Parse(vars["id"])
		if err != nil {
			httpError(w, "invalid session id", nethttp.StatusBadRequest)
			return
		}
		session, ok := srv.Session(id)
		if !ok {
			httpError(w, "unknown session", nethttp.StatusNotFound)
			return
		}
		writeJSON(w, sessionResponse{
			ID:         session.ID.String(),
			Entity:     uint32(session.Entity),
			RemoteAddr: session.RemoteAddr,
			Joined:     session.Joined,
		})
	}).Methods(nethttp.MethodGet)

	if cfg.Schema != nil {
		r.HandleFunc("/schema", func(w nethttp.ResponseWriter, r *nethttp.Request) {
			data, err := cfg.Schema()
			if err != nil {
				httpError(w, "failed to encode", nethttp.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/schema+json")
			w.Write(data)
		}).Methods(nethttp.MethodGet)
	}

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(nethttp.MethodGet)
	}

	handler := ws.NewHandler(srv, ws.HandlerConfig{
		Logger:    cfg.Logger,
		Publisher: cfg.Publisher,
		WriteWait: cfg.WriteWait,
	})
	r.HandleFunc("/ws", handler.Handle)

	return r
}

func writeJSON(w nethttp.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
