package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JoshADC/hikvision-isapi/internal/model"
	"github.com/JoshADC/hikvision-isapi/internal/proto/isapi"
)

// Adapter is the camera adapter surface the HTTP API exposes.
type Adapter interface {
	Device() *model.Device
	Settings() []model.Setting
	SetSetting(ctx context.Context, path string, value any) (isapi.PutResult, error)
	Refresh()
}

type Server struct {
	adapter Adapter
}

func NewServer(adapter Adapter) *Server {
	return &Server{adapter: adapter}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/camera/device", s.handleDevice)
	r.Get("/camera/settings", s.handleSettings)
	r.Put("/camera/settings/*", s.handleSetSetting)
	r.Post("/camera/refresh", s.handleRefresh)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleDevice(w http.ResponseWriter, _ *http.Request) {
	dev := s.adapter.Device()
	if dev == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "camera not connected yet"})
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

type settingItem struct {
	Path              string              `json:"path"`
	Name              string              `json:"name"`
	Kind              model.SettingKind   `json:"kind"`
	Options           []string            `json:"options,omitempty"`
	Labels            []string            `json:"labels,omitempty"`
	Range             *model.SettingRange `json:"range,omitempty"`
	CurrentValue      string              `json:"current_value"`
	LinkedEnabledPath string              `json:"linked_enabled_path,omitempty"`
	OffValue          string              `json:"off_value,omitempty"`
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	settings := s.adapter.Settings()
	items := make([]settingItem, 0, len(settings))
	for _, st := range settings {
		items = append(items, settingItem{
			Path:              st.Path,
			Name:              st.Name,
			Kind:              st.Kind,
			Options:           st.Options,
			Labels:            st.Labels,
			Range:             st.Range,
			CurrentValue:      st.CurrentValue,
			LinkedEnabledPath: st.LinkedEnabledPath,
			OffValue:          st.OffValue,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type setRequest struct {
	Value any `json:"value"`
}

type setResponse struct {
	Status    string `json:"status"`
	Path      string `json:"path"`
	SubStatus string `json:"sub_status,omitempty"`
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(chi.URLParam(r, "*"), "/")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "setting path required"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16*1024))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	defer r.Body.Close()
	var req setRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Value == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value is required"})
		return
	}

	result, err := s.adapter.SetSetting(r.Context(), path, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, isapi.ErrUnknownSetting):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, isapi.ErrInvalidValue):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			slog.Error("setting write failed", "path", path, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "camera unreachable"})
		}
		return
	}
	if !result.Success {
		writeJSON(w, http.StatusConflict, setResponse{Status: "rejected", Path: path, SubStatus: result.SubStatus})
		return
	}
	writeJSON(w, http.StatusOK, setResponse{Status: "applied", Path: path})
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.adapter.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}
