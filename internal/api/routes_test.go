package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ili-toolbox/ili-server/internal/cache"
	"github.com/ili-toolbox/ili-server/internal/event"
	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/internal/scene"
	"github.com/ili-toolbox/ili-server/internal/workspace"
	"github.com/ili-toolbox/ili-server/pkg/colormap"
)

func newTestRouter(t *testing.T) (*chi.Mux, *workspace.Workspace) {
	t.Helper()

	bus := event.NewBus()
	cm, _ := colormap.Lookup("red-hot")
	s2 := scene.NewScene2D(scene.Config{SpotRadius: 4, GlobalSpotScale: 1}, cm)
	s3 := scene.NewScene3D(cm)

	ws, err := workspace.New(workspace.Config{
		Bus:        bus,
		Scene2D:    s2,
		Scene3D:    s3,
		SpotRadius: 10,
	})
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}

	cm2, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB:  8,
		FrameTTL:          time.Minute,
		SnapshotCacheSize: 8,
	})
	if err != nil {
		t.Fatalf("cache.NewManager: %v", err)
	}
	t.Cleanup(func() { cm2.Close() })

	router := NewRouter(RouterConfig{
		Workspace:   ws,
		Bus:         bus,
		Scene2D:     s2,
		Cache:       cm2,
		CORSOrigins: []string{"*"},
	})
	return router, ws
}

func doRequest(t *testing.T, router http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
		r.Header.Set("Content-Type", contentType)
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec
}

func loadMeasures(t *testing.T, router http.Handler, ws *workspace.Workspace, csv string) {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/load/measures", []byte(csv), "text/csv")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("load measures: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(ws.MeasureNames()) == 0 || len(ws.RunningTasks()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for measures task")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMeasuresEndpoints(t *testing.T) {
	router, ws := newTestRouter(t)
	loadMeasures(t, router, ws, "name,x,y,first,second\na,0,0,1,10\nb,1,0,2,20\n")

	rec := doRequest(t, router, http.MethodGet, "/api/measures", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Measures []string `json:"measures"`
		Active   int      `json:"active"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Measures) != 2 || resp.Measures[0] != "first" {
		t.Fatalf("unexpected measures: %v", resp.Measures)
	}
	if resp.Active != 0 {
		t.Fatalf("expected first measure active, got %d", resp.Active)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/measures/select", []byte(`{"index":1}`), "application/json")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("select: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if ws.ActiveMeasure() != 1 {
		t.Fatalf("expected measure 1 active, got %d", ws.ActiveMeasure())
	}

	rec = doRequest(t, router, http.MethodPost, "/api/measures/select", []byte(`{"index":9}`), "application/json")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("select out of range: expected 404, got %d", rec.Code)
	}
}

func TestMappingEndpoints(t *testing.T) {
	router, ws := newTestRouter(t)
	loadMeasures(t, router, ws, "name,x,y,m\na,0,0,1\nb,1,0,5\n")

	rec := doRequest(t, router, http.MethodGet, "/api/mapping", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var state mappingState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.ScaleID != "linear" || !state.AutoMinMax {
		t.Fatalf("unexpected initial mapping: %+v", state)
	}

	upd := `{"scale_id":"log10","colormap_id":"viridis","auto_min_max":false,"min_value":0,"max_value":1}`
	rec = doRequest(t, router, http.MethodPut, "/api/mapping", []byte(upd), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("put mapping: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.ScaleID != "log10" || state.ColormapID != "viridis" || state.AutoMinMax {
		t.Fatalf("update not applied: %+v", state)
	}

	rec = doRequest(t, router, http.MethodPut, "/api/mapping", []byte(`{"scale_id":"bogus"}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad scale: expected 400, got %d", rec.Code)
	}
}

func TestSpotPropertyEndpoints(t *testing.T) {
	router, ws := newTestRouter(t)
	loadMeasures(t, router, ws, "name,x,y,m\na,0,0,1\nb,1,0,2\n")

	rec := doRequest(t, router, http.MethodPut, "/api/spots/visibility", []byte(`{"a":0.25,"ghost":1}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("put visibility: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var applied struct {
		Applied int `json:"applied"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &applied); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if applied.Applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied.Applied)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/spots/visibility", nil, "")
	var vis map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &vis); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if vis["a"] != 0.25 {
		t.Fatalf("expected visibility 0.25, got %v", vis["a"])
	}

	rec = doRequest(t, router, http.MethodPut, "/api/spots/color", []byte(`{"b":{"r":1,"g":0,"b":0}}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("put color: expected 200, got %d", rec.Code)
	}
	rec = doRequest(t, router, http.MethodGet, "/api/spots/color", nil, "")
	var colors map[string]rgbWire
	if err := json.Unmarshal(rec.Body.Bytes(), &colors); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c, ok := colors["b"]; !ok || c.R != 1 {
		t.Fatalf("expected red override on b, got %v", colors)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/spots/nonsense", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown property: expected 404, got %d", rec.Code)
	}
}

func TestErrorsEndpoints(t *testing.T) {
	router, ws := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/load/image", []byte("not an image"), "application/octet-stream")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(ws.Errors()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for decode failure")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/errors", nil, "")
	var resp struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", resp.Errors)
	}

	rec = doRequest(t, router, http.MethodDelete, "/api/errors", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear errors: expected 204, got %d", rec.Code)
	}
	if len(ws.Errors()) != 0 {
		t.Fatal("error log not cleared")
	}
}

func TestModeAndStatus(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/mode", nil, "")
	var mode struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &mode); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mode.Mode != "undefined" {
		t.Fatalf("expected undefined mode, got %q", mode.Mode)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/status", nil, "")
	var status struct {
		Status string   `json:"status"`
		Tasks  []string `json:"tasks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "" || len(status.Tasks) != 0 {
		t.Fatalf("expected idle status, got %+v", status)
	}
}

func TestRenderRequires2D(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/api/render.png", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 outside 2D mode, got %d", rec.Code)
	}
}

func TestRender2D(t *testing.T) {
	router, ws := newTestRouter(t)
	loadMeasures(t, router, ws, "name,x,y,m\na,4,4,1\n")

	// Spots alone suffice: the renderer falls back to the spot extent.
	ws.SetMode(model.Mode2D)
	rec := doRequest(t, router, http.MethodGet, "/api/render.png", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty render body")
	}

	// Second request at the same revision comes from the frame cache.
	rec2 := doRequest(t, router, http.MethodGet, "/api/render.png", nil, "")
	if !bytes.Equal(rec.Body.Bytes(), rec2.Body.Bytes()) {
		t.Fatal("expected identical cached frame")
	}
}

func TestDownloadEndpoints(t *testing.T) {
	router, ws := newTestRouter(t)
	loadMeasures(t, router, ws, "name,x,y,m\na,0,0,1.5\n")

	rec := doRequest(t, router, http.MethodGet, "/api/download?name=m", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "1.5") {
		t.Fatalf("expected measure values in export, got %q", rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/api/download?name=absent", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/download", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without name, got %d", rec.Code)
	}
}

func TestFilesMultipart(t *testing.T) {
	router, ws := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "spots.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("name,x,y,m\na,0,0,1\n"))
	mw.Close()

	rec := doRequest(t, router, http.MethodPost, "/api/files", buf.Bytes(), mw.FormDataContentType())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(ws.MeasureNames()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for dispatched load")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/files", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without multipart body, got %d", rec.Code)
	}
}
