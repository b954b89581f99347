package demtiles

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"slices"
	"sync/atomic"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/image/tiff/lzw"
)

// GDAL's no data value for float32 rasters, -math.MaxFloat32.
const (
	gdalNoDataBits   = 0xff7fffff
	gdalNoDataString = "-3.4028234663852886e+038"
)

var (
	errShortRead = errors.New("short read")
	gdalNoData   = math.Float32frombits(gdalNoDataBits)

	demBlockLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "demtiles_dem_block_loads_total",
		Help: "The total number of DEM blocks read from disk",
	}, []string{"result"})
)

// A BlockCoord is the column and row of a block within a DEM file, or of a
// DEM file within a DEMFileSet.
type BlockCoord struct {
	C int // Column.
	R int // Row.
}

// A DEMFile is an open single-band float32 GeoTIFF DEM with LZW compressed
// blocks.
type DEMFile struct {
	file              *os.File
	srid              int
	imageWidth        int
	imageLength       int
	blockWidth        int
	blockLength       int
	blocksAcross      int
	blockOffsets      []uint64
	blockByteCounts   []uint64
	smallestByteCount uint64
	blockSampleCount  int
	blockSizeBytes    int
	blockCacheBytes   int
	blockSamplesCache *otter.Cache[BlockCoord, []float32]
	emptyBlockBytes   atomic.Pointer[[]byte]
	scaleX            int
	scaleY            int
	originX           int
	originY           int
}

// A DEMFileOption sets an option on a DEMFile.
type DEMFileOption func(*DEMFile)

// A demIFD is a struct into which github.com/google/tiff can unmarshal the IFD
// of a DEM.
type demIFD struct {
	ImageWidth                uint16    `tiff:"field,tag=256"`
	ImageLength               uint16    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint16    `tiff:"field,tag=322"`
	TileLength                uint16    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// validate returns errors.ErrUnsupported unless ifd describes a layout that
// DEMFile can read.
func (ifd *demIFD) validate() error {
	switch {
	case ifd.BitsPerSample != 32 || ifd.SampleFormat != 3:
		return fmt.Errorf("samples are not float32: %w", errors.ErrUnsupported)
	case ifd.Compression != 5 || ifd.Predictor != 1:
		return fmt.Errorf("compression is not LZW without predictor: %w", errors.ErrUnsupported)
	case ifd.PhotometricInterpretation != 1 || ifd.SamplesPerPixel != 1 || ifd.PlanarConfiguration != 1:
		return fmt.Errorf("image is not a single band: %w", errors.ErrUnsupported)
	case ifd.TileWidth == 0 || ifd.TileLength == 0:
		return fmt.Errorf("image is not tiled: %w", errors.ErrUnsupported)
	case len(ifd.ModelPixelScaleTag) != 3 || ifd.ModelPixelScaleTag[2] != 0:
		return fmt.Errorf("unsupported pixel scale: %w", errors.ErrUnsupported)
	case len(ifd.ModelTiepointTag) != 6 || slices.ContainsFunc(ifd.ModelTiepointTag[:3], func(v float64) bool { return v != 0 }) || ifd.ModelTiepointTag[5] != 0:
		return fmt.Errorf("unsupported tie point: %w", errors.ErrUnsupported)
	case !isWhole(ifd.ModelPixelScaleTag[0]) || !isWhole(ifd.ModelPixelScaleTag[1]) || ifd.ModelPixelScaleTag[0] <= 0 || ifd.ModelPixelScaleTag[1] <= 0:
		return fmt.Errorf("pixel scale is not a positive integer: %w", errors.ErrUnsupported)
	case !isWhole(ifd.ModelTiepointTag[3]) || !isWhole(ifd.ModelTiepointTag[4]):
		return fmt.Errorf("origin is not an integer: %w", errors.ErrUnsupported)
	case ifd.GDALNoData != gdalNoDataString:
		return fmt.Errorf("no data value %q: %w", ifd.GDALNoData, errors.ErrUnsupported)
	default:
		return nil
	}
}

// srid returns the EPSG code of the CRS in ifd's geo keys, or zero if there is
// none or it is user-defined.
func (ifd *demIFD) srid() (int, error) {
	if ifd.GeoKeyDirectoryTag == nil {
		return 0, nil
	}
	geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
	if err != nil {
		return 0, err
	}
	return geoKeys.SRID(), nil
}

// NewDEMFile opens filename in fsys, which must be backed by the OS
// filesystem.
func NewDEMFile(fsys fs.FS, filename string, options ...DEMFileOption) (*DEMFile, error) {
	f := &DEMFile{
		blockCacheBytes: 128 << 20,
	}
	for _, option := range options {
		option(f)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	osFile, ok := file.(*os.File)
	if !ok {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	f.file = osFile
	if err := f.init(); err != nil {
		_ = f.file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return f, nil
}

// WithBlockCacheSize sets the number of bytes of decoded blocks kept in
// memory.
func WithBlockCacheSize(blockCacheBytes int) DEMFileOption {
	return func(f *DEMFile) {
		f.blockCacheBytes = blockCacheBytes
	}
}

func (f *DEMFile) init() error {
	t, err := tiff.Parse(f.file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return err
	}
	if n := len(t.IFDs()); n != 1 {
		return fmt.Errorf("found %d IFDs, expected 1", n)
	}

	var ifd demIFD
	if err := tiff.UnmarshalIFD(t.IFDs()[0], &ifd); err != nil {
		return err
	}
	if err := ifd.validate(); err != nil {
		return err
	}
	if f.srid, err = ifd.srid(); err != nil {
		return err
	}

	f.imageWidth = int(ifd.ImageWidth)
	f.imageLength = int(ifd.ImageLength)
	f.blockWidth = int(ifd.TileWidth)
	f.blockLength = int(ifd.TileLength)
	f.blocksAcross = (f.imageWidth + f.blockWidth - 1) / f.blockWidth
	blocksDown := (f.imageLength + f.blockLength - 1) / f.blockLength
	if n := f.blocksAcross * blocksDown; len(ifd.TileByteCounts) != n || len(ifd.TileOffsets) != n {
		return errors.New("incorrect number of tile byte counts or offsets")
	}
	f.blockOffsets = ifd.TileOffsets
	f.blockByteCounts = ifd.TileByteCounts
	f.smallestByteCount = slices.Min(ifd.TileByteCounts)
	f.blockSampleCount = f.blockWidth * f.blockLength
	f.blockSizeBytes = f.blockSampleCount * int(ifd.BitsPerSample) / 8

	f.blockSamplesCache, err = otter.New(&otter.Options[BlockCoord, []float32]{
		MaximumSize: max(f.blockCacheBytes/f.blockSizeBytes, 1),
	})
	if err != nil {
		return err
	}

	f.scaleX = int(ifd.ModelPixelScaleTag[0])
	f.scaleY = int(ifd.ModelPixelScaleTag[1])
	f.originX = int(ifd.ModelTiepointTag[3])
	f.originY = int(ifd.ModelTiepointTag[4])
	return nil
}

func (f *DEMFile) Close() error {
	return f.file.Close()
}

// SRID returns the EPSG code recorded in f's geo keys, or zero if there is
// none.
func (f *DEMFile) SRID() int {
	return f.srid
}

// Scale returns the distance between f's samples.
func (f *DEMFile) Scale() (int, int) {
	return f.scaleX, f.scaleY
}

// Sample returns the sample at coord, or NaN if there is none.
func (f *DEMFile) Sample(ctx context.Context, coord Coord) (float64, error) {
	samples, err := f.Samples(ctx, []Coord{coord})
	if err != nil {
		return 0, err
	}
	return samples[0], nil
}

// Samples returns the samples at coords, reading each block at most once.
func (f *DEMFile) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))
	pixels := make([]Coord, len(coords))
	indexesByBlock := make(map[BlockCoord][]int)
	for index, coord := range coords {
		pixels[index] = f.pixel(coord)
		block, ok := f.block(pixels[index])
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		indexesByBlock[block] = append(indexesByBlock[block], index)
	}

	for block, indexes := range indexesByBlock {
		switch blockSamples, err := f.blockSamplesCache.Get(ctx, block, otter.LoaderFunc[BlockCoord, []float32](f.loadBlock)); {
		case errors.Is(err, otter.ErrNotFound):
			for _, index := range indexes {
				samples[index] = math.NaN()
			}
		case err != nil:
			return nil, err
		default:
			for _, index := range indexes {
				samples[index] = f.blockSample(blockSamples, pixels[index])
			}
		}
	}
	return samples, nil
}

// pixel returns the pixel containing coord.
func (f *DEMFile) pixel(coord Coord) Coord {
	return Coord{
		X: (coord.X - f.originX) / f.scaleX,
		Y: (f.originY - coord.Y) / f.scaleY,
	}
}

// block returns the block containing pixel.
func (f *DEMFile) block(pixel Coord) (BlockCoord, bool) {
	if pixel.X < 0 || f.imageWidth <= pixel.X || pixel.Y < 0 || f.imageLength <= pixel.Y {
		return BlockCoord{}, false
	}
	return BlockCoord{
		C: pixel.X / f.blockWidth,
		R: pixel.Y / f.blockLength,
	}, true
}

func (f *DEMFile) blockSample(blockSamples []float32, pixel Coord) float64 {
	sample := blockSamples[pixel.X%f.blockWidth+(pixel.Y%f.blockLength)*f.blockWidth]
	if sample == gdalNoData {
		return math.NaN()
	}
	return float64(sample)
}

// loadBlock reads, decompresses, and decodes a block. It returns
// otter.ErrNotFound for blocks that contain only no data.
func (f *DEMFile) loadBlock(ctx context.Context, block BlockCoord) ([]float32, error) {
	index := block.C + f.blocksAcross*block.R
	compressed := make([]byte, f.blockByteCounts[index])
	emptyBlockBytes := f.emptyBlockBytes.Load()
	switch n, err := f.file.ReadAt(compressed, int64(f.blockOffsets[index])); {
	case err != nil:
		demBlockLoads.WithLabelValues("error").Inc()
		return nil, err
	case n != len(compressed):
		demBlockLoads.WithLabelValues("error").Inc()
		return nil, errShortRead
	case emptyBlockBytes != nil && bytes.Equal(compressed, *emptyBlockBytes):
		demBlockLoads.WithLabelValues("empty").Inc()
		return nil, otter.ErrNotFound
	}

	data := make([]byte, f.blockSizeBytes)
	r := lzw.NewReader(bytes.NewReader(compressed), lzw.MSB, 8)
	defer r.Close()
	for read := 0; read < len(data); {
		n, err := r.Read(data[read:])
		if err != nil {
			demBlockLoads.WithLabelValues("error").Inc()
			return nil, err
		}
		read += n
	}

	blockSamples := make([]float32, f.blockSampleCount)
	for i := range blockSamples {
		blockSamples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}

	// Empty blocks are assumed to be the smallest when compressed. Remember
	// the first one seen so later ones can be skipped before decompression.
	if emptyBlockBytes == nil && uint64(len(compressed)) == f.smallestByteCount &&
		!slices.ContainsFunc(blockSamples, func(sample float32) bool { return sample != gdalNoData }) {
		f.emptyBlockBytes.CompareAndSwap(nil, &compressed)
		demBlockLoads.WithLabelValues("empty").Inc()
		return nil, otter.ErrNotFound
	}

	demBlockLoads.WithLabelValues("ok").Inc()
	return blockSamples, nil
}

func isWhole(v float64) bool {
	return v == math.Trunc(v)
}
