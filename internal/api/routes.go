// Package api provides HTTP handlers for the ili server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ili-toolbox/ili-server/internal/cache"
	"github.com/ili-toolbox/ili-server/internal/event"
	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/internal/scene"
	"github.com/ili-toolbox/ili-server/internal/workspace"
)

const maxUploadBytes = 256 << 20 // 256 MiB across all parts

// RouterConfig contains router configuration.
type RouterConfig struct {
	Workspace   *workspace.Workspace
	Bus         *event.Bus
	Scene2D     *scene.Scene2D
	Cache       *cache.Manager
	CORSOrigins []string
}

// server binds the workspace to the HTTP surface. The revision counter
// advances on every published event, so cached frames and snapshots from a
// superseded workspace state stop being served without explicit invalidation.
type server struct {
	ws       *workspace.Workspace
	bus      *event.Bus
	scene2d  *scene.Scene2D
	cache    *cache.Manager
	revision atomic.Uint64
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	s := &server{
		ws:      cfg.Workspace,
		bus:     cfg.Bus,
		scene2d: cfg.Scene2D,
		cache:   cfg.Cache,
	}
	for _, name := range event.All() {
		cfg.Bus.Subscribe(name, func() { s.revision.Add(1) })
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/files", s.filesHandler)
		r.Route("/load", func(r chi.Router) {
			r.Post("/image", s.loadHandler(s.ws.LoadImage))
			r.Post("/mesh", s.loadHandler(s.ws.LoadMesh))
			r.Post("/material", s.loadHandler(s.ws.LoadMaterial))
			r.Post("/measures", s.loadHandler(s.ws.LoadIntensities))
			r.Post("/settings", s.loadSettingsHandler)
		})

		r.Get("/measures", s.measuresHandler)
		r.Post("/measures/select", s.selectMeasureHandler)

		r.Get("/mapping", s.getMappingHandler)
		r.Put("/mapping", s.putMappingHandler)

		r.Route("/spots/{property}", func(r chi.Router) {
			r.Get("/", s.getSpotPropertyHandler)
			r.Put("/", s.putSpotPropertyHandler)
		})

		r.Get("/errors", s.errorsHandler)
		r.Delete("/errors", s.clearErrorsHandler)
		r.Get("/status", s.statusHandler)
		r.Get("/mode", s.modeHandler)

		r.Get("/render.png", s.renderHandler)
		r.Get("/download", s.downloadHandler)
		r.Get("/events", s.eventsHandler)
	})

	return r
}

// filesHandler accepts a multipart batch of input files, classifies them by
// extension and dispatches each to its loader.
func (s *server) filesHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart body: "+err.Error(), http.StatusBadRequest)
		return
	}

	files := make(map[string][]byte)
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, "failed to read "+fh.Filename+": "+err.Error(), http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				http.Error(w, "failed to read "+fh.Filename+": "+err.Error(), http.StatusBadRequest)
				return
			}
			files[fh.Filename] = data
		}
	}
	if len(files) == 0 {
		http.Error(w, "no files in request", http.StatusBadRequest)
		return
	}

	s.ws.LoadFiles(files)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": len(files),
	})
}

// loadHandler wraps one loader entry point: the request body is the raw file
// content, the load itself runs as a background task.
func (s *server) loadHandler(load func([]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil {
			http.Error(w, "failed to read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(data) == 0 {
			http.Error(w, "empty body", http.StatusBadRequest)
			return
		}
		if err := load(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *server) loadSettingsHandler(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "failed to read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	s.ws.LoadSettings(data)
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) measuresHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"measures": s.ws.MeasureNames(),
		"active":   s.ws.ActiveMeasure(),
	})
}

type selectMeasureRequest struct {
	Index int `json:"index"`
}

func (s *server) selectMeasureHandler(w http.ResponseWriter, r *http.Request) {
	var req selectMeasureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ws.SelectMapByIndex(req.Index); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workspace.ErrNoSuchMeasure) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mappingState is the wire form of the intensity mapping settings.
type mappingState struct {
	ScaleID         string  `json:"scale_id"`
	ColormapID      string  `json:"colormap_id"`
	AutoMinMax      bool    `json:"auto_min_max"`
	MinValue        float64 `json:"min_value"`
	MaxValue        float64 `json:"max_value"`
	HotspotQuantile float64 `json:"hotspot_quantile"`
}

func (s *server) getMappingHandler(w http.ResponseWriter, r *http.Request) {
	state := mappingState{
		ScaleID:         s.ws.ScaleID(),
		ColormapID:      s.ws.ColormapID(),
		AutoMinMax:      s.ws.AutoMinMax(),
		MinValue:        s.ws.MinValue(),
		MaxValue:        s.ws.MaxValue(),
		HotspotQuantile: s.ws.HotspotQuantile(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// mappingUpdate carries a partial mapping update; absent fields stay as they
// are.
type mappingUpdate struct {
	ScaleID         *string  `json:"scale_id"`
	ColormapID      *string  `json:"colormap_id"`
	AutoMinMax      *bool    `json:"auto_min_max"`
	MinValue        *float64 `json:"min_value"`
	MaxValue        *float64 `json:"max_value"`
	HotspotQuantile *float64 `json:"hotspot_quantile"`
}

func (s *server) putMappingHandler(w http.ResponseWriter, r *http.Request) {
	var upd mappingUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if upd.ScaleID != nil {
		if err := s.ws.SetScaleID(*upd.ScaleID); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if upd.ColormapID != nil {
		if err := s.ws.SetColormapID(*upd.ColormapID); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if upd.AutoMinMax != nil {
		s.ws.SetAutoMinMax(*upd.AutoMinMax)
	}
	if upd.MinValue != nil {
		s.ws.SetMinValue(*upd.MinValue)
	}
	if upd.MaxValue != nil {
		s.ws.SetMaxValue(*upd.MaxValue)
	}
	if upd.HotspotQuantile != nil {
		s.ws.SetHotspotQuantile(*upd.HotspotQuantile)
	}

	s.getMappingHandler(w, r)
}

// rgbWire is the JSON form of a color override.
type rgbWire struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

func (s *server) getSpotPropertyHandler(w http.ResponseWriter, r *http.Request) {
	var payload interface{}
	switch chi.URLParam(r, "property") {
	case "visibility":
		payload = s.ws.SpotVisibility()
	case "scale":
		payload = s.ws.SpotScale()
	case "color":
		colors := s.ws.SpotColor()
		out := make(map[string]rgbWire, len(colors))
		for name, c := range colors {
			out[name] = rgbWire{R: c.R, G: c.G, B: c.B}
		}
		payload = out
	default:
		http.Error(w, "unknown spot property", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *server) putSpotPropertyHandler(w http.ResponseWriter, r *http.Request) {
	var applied int
	switch chi.URLParam(r, "property") {
	case "visibility", "scale":
		var values map[string]float64
		if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if chi.URLParam(r, "property") == "visibility" {
			applied = s.ws.SetSpotVisibility(values)
		} else {
			applied = s.ws.SetSpotScale(values)
		}
	case "color":
		var values map[string]rgbWire
		if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		colors := make(map[string]model.RGB, len(values))
		for name, c := range values {
			colors[name] = model.RGB{R: c.R, G: c.G, B: c.B}
		}
		applied = s.ws.SetSpotColor(colors)
	default:
		http.Error(w, "unknown spot property", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"applied": applied,
	})
}

func (s *server) errorsHandler(w http.ResponseWriter, r *http.Request) {
	errs := s.ws.Errors()
	if errs == nil {
		errs = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": errs,
	})
}

func (s *server) clearErrorsHandler(w http.ResponseWriter, r *http.Request) {
	s.ws.ClearErrors()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) statusHandler(w http.ResponseWriter, r *http.Request) {
	tasks := s.ws.RunningTasks()
	names := make([]string, len(tasks))
	for i, k := range tasks {
		names[i] = string(k)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": s.ws.Status(),
		"tasks":  names,
	})
}

func (s *server) modeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"mode": s.ws.Mode().String(),
	})
}

// renderHandler serves the 2D composite. Frames are cached per workspace
// revision.
func (s *server) renderHandler(w http.ResponseWriter, r *http.Request) {
	if s.ws.Mode() != model.Mode2D {
		http.Error(w, "rendering requires 2D mode", http.StatusConflict)
		return
	}

	key := cache.FrameKey(s.revision.Load(), s.ws.Mode().String(), nil)
	if data, ok := s.cache.GetFrame(key); ok {
		writePNG(w, data)
		return
	}

	data, err := s.scene2d.Render()
	if err != nil {
		http.Error(w, "render failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.cache.SetFrame(key, data)
	writePNG(w, data)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func (s *server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, "missing required query param: name", http.StatusBadRequest)
		return
	}

	key := cache.SnapshotKey(s.revision.Load(), name)
	filename, contentType := downloadMeta(name)
	if data, ok := s.cache.GetSnapshot(key); ok {
		writeAttachment(w, filename, contentType, data)
		return
	}

	files, err := s.ws.Download([]string{name})
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	data := files[filename]
	s.cache.SetSnapshot(key, data)
	writeAttachment(w, filename, contentType, data)
}

func downloadMeta(name string) (filename, contentType string) {
	if name == "settings" {
		return "settings.json", "application/json"
	}
	return name + ".csv", "text/csv"
}

func writeAttachment(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// eventsHandler streams the event-bus vocabulary over SSE. A slow client
// drops events rather than blocking the bus.
func (s *server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan event.Name, 64)
	subs := make([]event.Subscription, 0, len(event.All()))
	for _, name := range event.All() {
		name := name
		subs = append(subs, s.bus.Subscribe(name, func() {
			select {
			case ch <- name:
			default:
			}
		}))
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	seq := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case name := <-ch:
			seq++
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: {}\n\n", strconv.Itoa(seq), name)
			flusher.Flush()
		}
	}
}
