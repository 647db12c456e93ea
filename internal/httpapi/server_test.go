package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JoshADC/hikvision-isapi/internal/model"
	"github.com/JoshADC/hikvision-isapi/internal/proto/isapi"
)

type fakeAdapter struct {
	device    *model.Device
	settings  []model.Setting
	result    isapi.PutResult
	err       error
	setPath   string
	setValue  any
	refreshed bool
}

func (f *fakeAdapter) Device() *model.Device     { return f.device }
func (f *fakeAdapter) Settings() []model.Setting { return f.settings }
func (f *fakeAdapter) Refresh()                  { f.refreshed = true }

func (f *fakeAdapter) SetSetting(_ context.Context, path string, value any) (isapi.PutResult, error) {
	f.setPath, f.setValue = path, value
	return f.result, f.err
}

func newTestAPI(f *fakeAdapter) http.Handler {
	r := chi.NewRouter()
	NewServer(f).RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleDevice(t *testing.T) {
	f := &fakeAdapter{}
	h := newTestAPI(f)

	rec := doRequest(t, h, http.MethodGet, "/camera/device", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before registration, got %d", rec.Code)
	}

	f.device = &model.Device{ID: uuid.New(), Name: "Front Door", Model: "DS-2CD2387G2"}
	rec = doRequest(t, h, http.MethodGet, "/camera/device", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var dev model.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &dev); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if dev.Name != "Front Door" {
		t.Fatalf("expected device name %q, got %q", "Front Door", dev.Name)
	}
}

func TestHandleSettings(t *testing.T) {
	f := &fakeAdapter{settings: []model.Setting{
		{Path: "WDR/mode", Name: "WDR", Kind: model.KindSelect,
			Options: []string{"open", "close"}, Labels: []string{"On", "Off"}, CurrentValue: "close"},
		{Path: "Color/brightnessLevel", Name: "Brightness", Kind: model.KindNumber,
			Range: &model.SettingRange{Min: 0, Max: 100}, CurrentValue: "50"},
	}}
	rec := doRequest(t, newTestAPI(f), http.MethodGet, "/camera/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []settingItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(items) != 2 || items[0].Path != "WDR/mode" || items[1].Range == nil {
		t.Fatalf("unexpected payload %+v", items)
	}
}

func TestHandleSetSetting(t *testing.T) {
	cases := []struct {
		name       string
		result     isapi.PutResult
		err        error
		wantStatus int
	}{
		{"applied", isapi.PutResult{Success: true, StatusCode: 200, SubStatus: "ok"}, nil, http.StatusOK},
		{"rejected", isapi.PutResult{Success: false, StatusCode: 400, SubStatus: "MutexWithWDR"}, nil, http.StatusConflict},
		{"unknown setting", isapi.PutResult{}, fmt.Errorf("%w: Nope/nope", isapi.ErrUnknownSetting), http.StatusNotFound},
		{"invalid value", isapi.PutResult{}, fmt.Errorf("%w: out of range", isapi.ErrInvalidValue), http.StatusBadRequest},
		{"unreachable", isapi.PutResult{}, errors.New("connection refused"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		f := &fakeAdapter{result: tc.result, err: tc.err}
		rec := doRequest(t, newTestAPI(f), http.MethodPut, "/camera/settings/WDR/mode", `{"value":"open"}`)
		if rec.Code != tc.wantStatus {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.wantStatus, rec.Code, rec.Body.String())
		}
		if f.setPath != "WDR/mode" {
			t.Fatalf("%s: adapter received path %q", tc.name, f.setPath)
		}
	}
}

func TestHandleSetSettingRejectedBody(t *testing.T) {
	f := &fakeAdapter{result: isapi.PutResult{Success: false, StatusCode: 400, SubStatus: "WDRNotDisable"}}
	rec := doRequest(t, newTestAPI(f), http.MethodPut, "/camera/settings/HLC/enabled", `{"value":true}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp setResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "rejected" || resp.SubStatus != "WDRNotDisable" || resp.Path != "HLC/enabled" {
		t.Fatalf("unexpected body %+v", resp)
	}
}

func TestHandleSetSettingBadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{nope"},
		{"missing value", `{"other":1}`},
	}
	for _, tc := range cases {
		f := &fakeAdapter{}
		rec := doRequest(t, newTestAPI(f), http.MethodPut, "/camera/settings/WDR/mode", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
		if f.setPath != "" {
			t.Fatalf("%s: adapter should not be called, got path %q", tc.name, f.setPath)
		}
	}
}

func TestHandleRefresh(t *testing.T) {
	f := &fakeAdapter{}
	rec := doRequest(t, newTestAPI(f), http.MethodPost, "/camera/refresh", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if !f.refreshed {
		t.Fatal("refresh not forwarded to adapter")
	}
}
