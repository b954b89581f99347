package demtiles

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sync"

	"github.com/twpayne/go-proj/v11"
)

// EU-DEM v1.1 is distributed as 1000km × 1000km files with 25m samples in
// EPSG:3035.
const (
	euDEMSRID     = 3035
	euDEMScale    = 25
	euDEMFileSize = 1000000
)

// NewEUDEM returns a DEMFileSet for the EU-DEM v1.1 files in fsys.
func NewEUDEM(fsys fs.FS, options ...DEMFileSetOption) (*DEMFileSet, error) {
	return NewDEMFileSet(slices.Concat(
		[]DEMFileSetOption{
			WithFS(fsys),
			WithSRID(euDEMSRID),
			WithScale(euDEMScale, euDEMScale),
			WithFileCoordFunc(func(coord Coord) (BlockCoord, bool) {
				if coord.X < 0 || coord.Y < 0 {
					return BlockCoord{}, false
				}
				return BlockCoord{
					C: 10 * (coord.X / euDEMFileSize),
					R: 10 * (coord.Y / euDEMFileSize),
				}, true
			}),
			WithFilenameFunc(func(fileCoord BlockCoord) string {
				return fmt.Sprintf("eu_dem_v11_E%02dN%02d.TIF", fileCoord.C, fileCoord.R)
			}),
		},
		options,
	)...)
}

// An EUDEMElevationService returns bilinearly interpolated elevations from
// EU-DEM.
type EUDEMElevationService struct {
	demFileSet *DEMFileSet
	pjMutex    sync.Mutex
	pj         *proj.PJ
}

// NewEUDEMElevationService returns a new EUDEMElevationService reading
// EU-DEM files from fsys.
func NewEUDEMElevationService(fsys fs.FS, options ...DEMFileSetOption) (*EUDEMElevationService, error) {
	demFileSet, err := NewEUDEM(fsys, options...)
	if err != nil {
		return nil, err
	}
	pj, err := proj.NewCRSToCRS("epsg:4326", fmt.Sprintf("epsg:%d", euDEMSRID), nil)
	if err != nil {
		return nil, err
	}
	return &EUDEMElevationService{
		demFileSet: demFileSet,
		pj:         pj,
	}, nil
}

// Elevation returns the elevations at coords in EPSG:3035, each given as
// [easting, northing].
func (s *EUDEMElevationService) Elevation(ctx context.Context, coords [][]float64) ([]float64, error) {
	return InterpolateBilinear(ctx, s.demFileSet, coords)
}

// Elevation4326 returns the elevations at coords, each given as [lon, lat].
func (s *EUDEMElevationService) Elevation4326(ctx context.Context, coords4326 [][]float64) ([]float64, error) {
	coords3035 := cloneCoords(coords4326)
	// EPSG:4326 and EPSG:3035 both have northing first axis order.
	flipCoords(coords3035)
	if err := s.forward(coords3035); err != nil {
		return nil, err
	}
	flipCoords(coords3035)
	return s.Elevation(ctx, coords3035)
}

// Close closes the underlying DEM files.
func (s *EUDEMElevationService) Close() error {
	return s.demFileSet.Close()
}

// forward transforms coords in place. PROJ objects must not be used
// concurrently.
func (s *EUDEMElevationService) forward(coords [][]float64) error {
	s.pjMutex.Lock()
	defer s.pjMutex.Unlock()
	return s.pj.ForwardFloat64Slices(coords)
}

func cloneCoords(coords [][]float64) [][]float64 {
	flat := make([]float64, 2*len(coords))
	clones := make([][]float64, len(coords))
	for i, coord := range coords {
		copy(flat[2*i:2*i+2], coord)
		clones[i] = flat[2*i : 2*i+2]
	}
	return clones
}

func flipCoords(coords [][]float64) {
	for _, coord := range coords {
		coord[0], coord[1] = coord[1], coord[0]
	}
}
