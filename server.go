package demtiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const (
	maxViewportSize = 4096
	maxServedZoom   = 24
)

var errBadRequest = errors.New("bad request")

// A Server serves a Layer over HTTP. Each /tiles and /view.png request is
// rendered on its own. With an adaptive Layer the display range follows the
// most recently rendered request, so neighboring tiles requested separately
// can be rendered with different ranges. Use a Layer that is not adaptive for a
// consistent tile set. PUT /range sets its range.
type Server struct {
	layer    *Layer
	handler  http.Handler
	logger   zerolog.Logger
	tileJSON *TileJSON
	baseURL  string
	name     string
	allowed  []string
	maxZoom  maptile.Zoom
}

// A ServerOption sets an option on a Server.
type ServerOption func(*Server)

// NewServer returns a new Server for layer.
func NewServer(layer *Layer, options ...ServerOption) *Server {
	s := &Server{
		layer:   layer,
		logger:  zerolog.Nop(),
		name:    "elevation",
		allowed: []string{"*"},
		maxZoom: maxServedZoom,
	}
	for _, option := range options {
		option(s)
	}
	s.tileJSON = NewTileJSON(s.name, s.baseURL+"/tiles/{z}/{x}/{y}.png", int(s.maxZoom))

	router := mux.NewRouter()
	router.HandleFunc("/tiles/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.png", s.handleTile).Methods(http.MethodGet)
	router.HandleFunc("/view.png", s.handleView).Methods(http.MethodGet)
	router.HandleFunc("/elevation", s.handleElevation).Methods(http.MethodGet)
	router.HandleFunc("/range", s.handleGetRange).Methods(http.MethodGet)
	router.HandleFunc("/range", s.handlePutRange).Methods(http.MethodPut)
	router.HandleFunc("/tilejson.json", s.handleTileJSON).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: s.allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
	}).Handler(router)
	return s
}

// WithBaseURL sets the URL prefix of tile URLs in the TileJSON document.
func WithBaseURL(baseURL string) ServerOption {
	return func(s *Server) {
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithServerLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithName(name string) ServerOption {
	return func(s *Server) {
		s.name = name
	}
}

// WithAllowedOrigins sets the origins allowed by CORS.
func WithAllowedOrigins(allowed ...string) ServerOption {
	return func(s *Server) {
		s.allowed = allowed
	}
}

// WithMaxServedZoom sets the highest zoom level served.
func WithMaxServedZoom(maxZoom maptile.Zoom) ServerOption {
	return func(s *Server) {
		s.maxZoom = maxZoom
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	z, errZ := strconv.ParseUint(vars["z"], 10, 32)
	x, errX := strconv.ParseUint(vars["x"], 10, 32)
	y, errY := strconv.ParseUint(vars["y"], 10, 32)
	tile := maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
	if err := errors.Join(errZ, errX, errY); err != nil || tile.Z > s.maxZoom || !validTile(tile) {
		s.writeError(w, r, fmt.Errorf("%s: invalid tile: %w", r.URL.Path, errBadRequest))
		return
	}
	s.render(w, r, TileViewport(tile))
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	lon, errLon := strconv.ParseFloat(query.Get("lon"), 64)
	lat, errLat := strconv.ParseFloat(query.Get("lat"), 64)
	z, errZ := strconv.ParseUint(query.Get("z"), 10, 32)
	width, errWidth := strconv.Atoi(query.Get("width"))
	height, errHeight := strconv.Atoi(query.Get("height"))
	if err := errors.Join(errLon, errLat, errZ, errWidth, errHeight); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if maptile.Zoom(z) > s.maxZoom || width <= 0 || height <= 0 || width > maxViewportSize || height > maxViewportSize ||
		math.Abs(lat) > maxMercatorLatitude || math.Abs(lon) > 180 {
		s.writeError(w, r, fmt.Errorf("viewport out of range: %w", errBadRequest))
		return
	}
	s.render(w, r, CenterViewport(lon, lat, maptile.Zoom(z), width, height))
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, viewport Viewport) {
	result, err := s.layer.Render(r.Context(), viewport)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := EncodePNG(result)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Display-Range", formatFloats(result.Display.Min, result.Display.Max))
	w.Header().Set("X-Render-Passes", strconv.Itoa(result.Passes))
	_, _ = w.Write(data)
}

type elevationResponse struct {
	Lon       float64  `json:"lon"`
	Lat       float64  `json:"lat"`
	Elevation *float64 `json:"elevation"`
}

func (s *Server) handleElevation(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	lon, errLon := strconv.ParseFloat(query.Get("lon"), 64)
	lat, errLat := strconv.ParseFloat(query.Get("lat"), 64)
	if err := errors.Join(errLon, errLat); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	elevation, err := ElevationAt(r.Context(), s.layer.Source(), lon, lat)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response := elevationResponse{
		Lon: lon,
		Lat: lat,
	}
	if elevation != NoDataElevation {
		response.Elevation = &elevation
	}
	s.writeJSON(w, r, response)
}

func (s *Server) handleGetRange(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.layer.DisplayRange())
}

func (s *Server) handlePutRange(w http.ResponseWriter, r *http.Request) {
	var display DisplayRange
	if err := json.NewDecoder(r.Body).Decode(&display); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	s.layer.SetDisplayRange(display)
	s.writeJSON(w, r, display)
}

func (s *Server) handleTileJSON(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.tileJSON)
}

// writeJSON writes value as JSON, gzipped if the client accepts it.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Add("Vary", "Accept-Encoding")
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		if err := json.NewEncoder(w).Encode(value); err != nil {
			s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("write")
		}
		return
	}
	w.Header().Set("Content-Encoding", "gzip")
	gw := gzip.NewWriter(w)
	if err := json.NewEncoder(gw).Encode(value); err != nil {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("write")
	}
	if err := gw.Close(); err != nil {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("write")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, ErrOutOfBounds):
		status = http.StatusBadRequest
	case errors.Is(err, r.Context().Err()) && r.Context().Err() != nil:
		status = http.StatusServiceUnavailable
	}
	event := s.logger.Warn()
	if status == http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	http.Error(w, err.Error(), status)
}
