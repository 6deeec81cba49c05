package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("POST /api/v1/scan", s.handleScan)
	mux.HandleFunc("POST /api/v1/connect", s.handleConnect)
	mux.HandleFunc("POST /api/v1/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/v1/error/clear", s.handleClearError)
	mux.HandleFunc("GET /api/v1/info", s.handleInfo)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/watchdog", s.handleWatchdog)
}

type connectRequest struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	if s.session.Snapshot().Scanning {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "scan already in progress"})
		return
	}
	s.background("scan", s.session.ScanForDevices)
	writeJSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "device id is required"})
		return
	}
	if _, ok := s.session.Snapshot().Find(req.ID); !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown device: " + req.ID})
		return
	}
	s.background("connect", func(ctx context.Context) error {
		return s.session.Connect(ctx, req.ID)
	})
	writeJSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.background("disconnect", s.session.Disconnect)
	writeJSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) handleClearError(w http.ResponseWriter, _ *http.Request) {
	s.session.ClearError()
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	info := s.info
	info.Supported = s.session.Snapshot().Supported
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.events.After(r.URL.Query().Get("after")))
}

func (s *Server) handleWatchdog(w http.ResponseWriter, _ *http.Request) {
	if s.watchdog == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "watchdog disabled"})
		return
	}
	report, ok := s.watchdog.Last()
	if !ok {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
