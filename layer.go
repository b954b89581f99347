package demtiles

import (
	"context"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	renderPasses = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "demtiles_render_passes",
		Help:    "The number of operation passes per render",
		Buckets: []float64{1, 2, 3, 4},
	})
	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "demtiles_render_duration_seconds",
		Help: "The time taken to render a viewport",
	})
	displayRangeUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demtiles_display_range_updates_total",
		Help: "The total number of display range updates",
	})
)

// InitialDisplayRange is the display range of a new Layer. Every pass's
// extremes also start from it, so the first pass over any data replaces it.
var InitialDisplayRange = DisplayRange{Min: 1000, Max: 0}

// A Layer renders elevation tiles from a TileSource through an Operation. An
// adaptive Layer remembers the display range of the last rendered viewport.
type Layer struct {
	mutex       sync.Mutex
	display     DisplayRange
	source      TileSource
	operation   Operation
	maxPasses   int
	concurrency int
	adaptive    bool
	logger      zerolog.Logger
}

// A LayerOption sets an option on a Layer.
type LayerOption func(*Layer)

// A RenderResult is the result of rendering a viewport.
type RenderResult struct {
	Image *image.NRGBA
	// Display is the display range used for Image.
	Display DisplayRange
	// Extremes are the extremes observed while rendering Image, starting from
	// InitialDisplayRange.
	Extremes Extremes
	Passes   int
}

// NewLayer returns a new Layer reading from source.
func NewLayer(source TileSource, options ...LayerOption) *Layer {
	l := &Layer{
		display:     InitialDisplayRange,
		source:      source,
		operation:   GrayscaleOperation{Alpha: DefaultAlpha},
		maxPasses:   3,
		concurrency: runtime.GOMAXPROCS(0),
		adaptive:    true,
		logger:      zerolog.Nop(),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

func WithOperation(operation Operation) LayerOption {
	return func(l *Layer) {
		l.operation = operation
	}
}

func WithDisplayRange(display DisplayRange) LayerOption {
	return func(l *Layer) {
		l.display = display
	}
}

// WithMaxPasses limits the number of passes per render. A static view needs
// at most two.
func WithMaxPasses(maxPasses int) LayerOption {
	return func(l *Layer) {
		l.maxPasses = max(maxPasses, 1)
	}
}

// WithConcurrency sets the number of goroutines used to fetch tiles and to
// apply the operation.
func WithConcurrency(concurrency int) LayerOption {
	return func(l *Layer) {
		l.concurrency = max(concurrency, 1)
	}
}

// WithAdaptive sets whether renders update the display range. A layer that is
// not adaptive renders every viewport in a single pass with its display
// range.
func WithAdaptive(adaptive bool) LayerOption {
	return func(l *Layer) {
		l.adaptive = adaptive
	}
}

func WithLogger(logger zerolog.Logger) LayerOption {
	return func(l *Layer) {
		l.logger = logger
	}
}

// DisplayRange returns l's current display range.
func (l *Layer) DisplayRange() DisplayRange {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.display
}

// SetDisplayRange sets l's display range.
func (l *Layer) SetDisplayRange(display DisplayRange) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.display = display
}

// Adaptive returns whether renders update l's display range.
func (l *Layer) Adaptive() bool {
	return l.adaptive
}

// Source returns l's tile source.
func (l *Layer) Source() TileSource {
	return l.source
}

// Render renders viewport. Each pass rescales with the current display range
// and observes the extremes of the viewport's data. If they differ from the
// display range then the display range is replaced by them and the viewport
// is rendered again, up to l's maximum number of passes. The display range
// therefore follows the data in the most recently rendered viewport.
func (l *Layer) Render(ctx context.Context, viewport Viewport) (*RenderResult, error) {
	if !l.adaptive {
		return l.RenderWithDisplayRange(ctx, viewport, l.DisplayRange())
	}

	start := time.Now()
	input, err := viewport.Fetch(ctx, l.source, l.concurrency)
	if err != nil {
		return nil, err
	}

	result := &RenderResult{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		display := l.DisplayRange()
		output, extremes := l.apply(input, display)
		result.Image = output
		result.Display = display
		result.Extremes = extremes
		result.Passes++
		if !extremes.Differs(display) {
			break
		}
		l.SetDisplayRange(extremes.DisplayRange())
		displayRangeUpdates.Inc()
		l.logger.Debug().
			Float64("min", extremes.Min).
			Float64("max", extremes.Max).
			Int("pass", result.Passes).
			Msg("display range updated")
		if result.Passes >= l.maxPasses {
			break
		}
	}

	renderPasses.Observe(float64(result.Passes))
	renderDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

// RenderWithDisplayRange renders viewport in a single pass with display. It
// does not change l's display range.
func (l *Layer) RenderWithDisplayRange(ctx context.Context, viewport Viewport, display DisplayRange) (*RenderResult, error) {
	start := time.Now()
	input, err := viewport.Fetch(ctx, l.source, l.concurrency)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	output, extremes := l.apply(input, display)
	renderPasses.Observe(1)
	renderDuration.Observe(time.Since(start).Seconds())
	return &RenderResult{
		Image:    output,
		Display:  display,
		Extremes: extremes,
		Passes:   1,
	}, nil
}

// Extremes returns the extremes of viewport's data without rendering it.
func (l *Layer) Extremes(ctx context.Context, viewport Viewport) (Extremes, error) {
	input, err := viewport.Fetch(ctx, l.source, l.concurrency)
	if err != nil {
		return Extremes{}, err
	}
	return l.forEachBand(input.Rect, func(minY, maxY int, extremes *Extremes) {
		for y := minY; y < maxY; y++ {
			for x := input.Rect.Min.X; x < input.Rect.Max.X; x++ {
				i := input.PixOffset(x, y)
				extremes.Update(Decode(Sample{input.Pix[i], input.Pix[i+1], input.Pix[i+2]}))
			}
		}
	}), nil
}

// apply runs l's operation over every pixel of input.
func (l *Layer) apply(input *image.NRGBA, display DisplayRange) (*image.NRGBA, Extremes) {
	output := image.NewNRGBA(input.Rect)
	extremes := l.forEachBand(input.Rect, func(minY, maxY int, extremes *Extremes) {
		for y := minY; y < maxY; y++ {
			for x := input.Rect.Min.X; x < input.Rect.Max.X; x++ {
				i := input.PixOffset(x, y)
				sample := Sample{input.Pix[i], input.Pix[i+1], input.Pix[i+2]}
				c := l.operation.Apply(sample, display, extremes)
				output.Pix[i+0] = c.R
				output.Pix[i+1] = c.G
				output.Pix[i+2] = c.B
				output.Pix[i+3] = c.A
			}
		}
	})
	return output, extremes
}

// forEachBand splits rect's rows into bands and calls f for each band in its
// own goroutine with its own extremes, starting from InitialDisplayRange. It
// returns the merged extremes of all bands.
func (l *Layer) forEachBand(rect image.Rectangle, f func(minY, maxY int, extremes *Extremes)) Extremes {
	height := rect.Dy()
	bands := min(l.concurrency, max(height, 1))
	bandExtremes := make([]Extremes, bands)

	var wg sync.WaitGroup
	for band := range bands {
		bandExtremes[band] = SeedExtremes(InitialDisplayRange)
		minY := rect.Min.Y + band*height/bands
		maxY := rect.Min.Y + (band+1)*height/bands
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(minY, maxY, &bandExtremes[band])
		}()
	}
	wg.Wait()

	extremes := SeedExtremes(InitialDisplayRange)
	for _, e := range bandExtremes {
		extremes.Merge(e)
	}
	return extremes
}
