package demtiles

// A TileJSON describes a tile layer for map clients.
type TileJSON struct {
	TileJSON    string    `json:"tilejson"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Attribution string    `json:"attribution,omitempty"`
	Scheme      string    `json:"scheme"`
	Tiles       []string  `json:"tiles"`
	MinZoom     int       `json:"minzoom"`
	MaxZoom     int       `json:"maxzoom"`
	Bounds      []float64 `json:"bounds,omitempty"`
	Center      []float64 `json:"center,omitempty"`
}

// NewTileJSON returns the TileJSON for a layer served at tileURL.
func NewTileJSON(name, tileURL string, maxZoom int) *TileJSON {
	return &TileJSON{
		TileJSON:    "3.0.0",
		Name:        name,
		Description: "Elevation rescaled to the visible display range",
		Scheme:      "xyz",
		Tiles:       []string{tileURL},
		MinZoom:     0,
		MaxZoom:     maxZoom,
		Bounds:      []float64{-180, -maxMercatorLatitude, 180, maxMercatorLatitude},
		Center:      []float64{0, 0, 2},
	}
}
