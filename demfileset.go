package demtiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	missingFileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demtiles_missing_dem_file_cache_hits_total",
		Help: "The total number of hits on the missing DEM file cache",
	})
	missingFileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demtiles_missing_dem_file_cache_misses_total",
		Help: "The total number of misses on the missing DEM file cache",
	})
	openFileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demtiles_open_dem_file_cache_hits_total",
		Help: "The total number of hits on the open DEM file cache",
	})
	openFileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demtiles_open_dem_file_cache_misses_total",
		Help: "The total number of misses on the open DEM file cache",
	})
	openFileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demtiles_open_dem_file_cache_evictions_total",
		Help: "The total number of evictions from the open DEM file cache",
	})
)

// A FileCoordFunc returns the coordinate of the DEM file containing a
// coordinate.
type FileCoordFunc func(Coord) (BlockCoord, bool)

// A FilenameFunc returns the filename of the DEM file at a file coordinate.
type FilenameFunc func(BlockCoord) string

// A DEMFileSet is a set of DEM files on a regular grid, opened on demand.
type DEMFileSet struct {
	mutex          sync.Mutex
	fsys           fs.FS
	srid           int
	fileCoordFunc  FileCoordFunc
	filenameFunc   FilenameFunc
	missingFiles   sync.Map
	demFileOptions []DEMFileOption
	cacheSize      int
	scaleX         int
	scaleY         int
	openFiles      *lru.Cache[BlockCoord, *openDEMFile]
}

// An openDEMFile is a DEMFile in a DEMFileSet's cache. It is closed when it
// has been evicted and has no readers. Its fields are guarded by the set's
// mutex.
type openDEMFile struct {
	demFile *DEMFile
	readers int
	evicted bool
}

// A DEMFileSetOption sets an option on a DEMFileSet.
type DEMFileSetOption func(*DEMFileSet)

// NewDEMFileSet returns a new DEMFileSet with the given options.
func NewDEMFileSet(options ...DEMFileSetOption) (*DEMFileSet, error) {
	s := &DEMFileSet{
		cacheSize: 32,
	}
	for _, option := range options {
		option(s)
	}
	if s.fsys == nil || s.fileCoordFunc == nil || s.filenameFunc == nil {
		return nil, errors.New("DEM file set needs a filesystem, a file coordinate func, and a filename func")
	}

	var err error
	s.openFiles, err = lru.NewWithEvict(s.cacheSize, func(_ BlockCoord, openFile *openDEMFile) {
		openFile.evicted = true
		if openFile.readers == 0 {
			_ = openFile.demFile.Close()
		}
		openFileCacheEvictions.Inc()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithFileCacheSize sets the number of DEM files kept open.
func WithFileCacheSize(cacheSize int) DEMFileSetOption {
	return func(s *DEMFileSet) {
		s.cacheSize = cacheSize
	}
}

func WithFS(fsys fs.FS) DEMFileSetOption {
	return func(s *DEMFileSet) {
		s.fsys = fsys
	}
}

func WithDEMFileOptions(demFileOptions ...DEMFileOption) DEMFileSetOption {
	return func(s *DEMFileSet) {
		s.demFileOptions = demFileOptions
	}
}

func WithFileCoordFunc(fileCoordFunc FileCoordFunc) DEMFileSetOption {
	return func(s *DEMFileSet) {
		s.fileCoordFunc = fileCoordFunc
	}
}

// WithSRID sets the EPSG code of the set's CRS. DEM files that record a
// different one are rejected.
func WithSRID(srid int) DEMFileSetOption {
	return func(s *DEMFileSet) {
		s.srid = srid
	}
}

func WithScale(scaleX, scaleY int) DEMFileSetOption {
	return func(s *DEMFileSet) {
		s.scaleX = scaleX
		s.scaleY = scaleY
	}
}

func WithFilenameFunc(filenameFunc FilenameFunc) DEMFileSetOption {
	return func(s *DEMFileSet) {
		s.filenameFunc = filenameFunc
	}
}

// Samples returns the samples at coords. Missing samples are NaN.
func (s *DEMFileSet) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))

	type group struct {
		coords  []Coord
		indexes []int
	}
	groupsByFile := make(map[BlockCoord]*group)
	for index, coord := range coords {
		fileCoord, ok := s.fileCoordFunc(coord)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		g, ok := groupsByFile[fileCoord]
		if !ok {
			g = &group{}
			groupsByFile[fileCoord] = g
		}
		g.coords = append(g.coords, coord)
		g.indexes = append(g.indexes, index)
	}

	for fileCoord, g := range groupsByFile {
		openFile, err := s.acquireFile(fileCoord)
		if err != nil {
			return nil, err
		}
		if openFile == nil {
			for _, index := range g.indexes {
				samples[index] = math.NaN()
			}
			continue
		}
		fileSamples, err := openFile.demFile.Samples(ctx, g.coords)
		s.releaseFile(openFile)
		if err != nil {
			return nil, err
		}
		for i, index := range g.indexes {
			samples[index] = fileSamples[i]
		}
	}

	return samples, nil
}

// SRID returns s's SRID.
func (s *DEMFileSet) SRID() int {
	return s.srid
}

// Scale returns s's scale.
func (s *DEMFileSet) Scale() (int, int) {
	return s.scaleX, s.scaleY
}

// Close closes all open DEM files once their readers are done.
func (s *DEMFileSet) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.openFiles.Purge()
	return nil
}

// acquireFile returns the DEM file at fileCoord, or nil if it does not exist.
// The returned file stays open until it is passed to releaseFile.
func (s *DEMFileSet) acquireFile(fileCoord BlockCoord) (*openDEMFile, error) {
	if _, ok := s.missingFiles.Load(fileCoord); ok {
		missingFileCacheHits.Inc()
		return nil, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if openFile, ok := s.openFiles.Get(fileCoord); ok {
		openFileCacheHits.Inc()
		openFile.readers++
		return openFile, nil
	}
	// Another goroutine may have found the file missing while we waited.
	if _, ok := s.missingFiles.Load(fileCoord); ok {
		missingFileCacheHits.Inc()
		return nil, nil
	}
	openFileCacheMisses.Inc()

	filename := s.filenameFunc(fileCoord)
	demFile, err := NewDEMFile(s.fsys, filename, s.demFileOptions...)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.missingFiles.Store(fileCoord, struct{}{})
		missingFileCacheMisses.Inc()
		return nil, nil
	case err != nil:
		return nil, err
	}
	if srid := demFile.SRID(); s.srid != 0 && srid != 0 && srid != s.srid {
		_ = demFile.Close()
		return nil, fmt.Errorf("%s: SRID %d, expected %d: %w", filename, srid, s.srid, errors.ErrUnsupported)
	}

	openFile := s.addOpenFile(fileCoord, demFile)
	openFile.readers++
	return openFile, nil
}

// addOpenFile adds demFile to s's cache of open files, possibly evicting
// another. s.mutex must be held.
func (s *DEMFileSet) addOpenFile(fileCoord BlockCoord, demFile *DEMFile) *openDEMFile {
	openFile := &openDEMFile{
		demFile: demFile,
	}
	s.openFiles.Add(fileCoord, openFile)
	return openFile
}

// releaseFile releases a file returned by acquireFile, closing it if it was
// evicted while in use.
func (s *DEMFileSet) releaseFile(openFile *openDEMFile) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	openFile.readers--
	if openFile.readers == 0 && openFile.evicted {
		_ = openFile.demFile.Close()
	}
}
