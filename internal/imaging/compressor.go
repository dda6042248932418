package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/gen2brain/webp"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/partsmarket/backend/internal/logging"
)

const (
	// DefaultMaxSide bounds the longer edge of gallery uploads.
	DefaultMaxSide = 1600
	// DefaultQuality is the encoder hint used when none is supplied.
	DefaultQuality = 0.82
	// DefaultMaxPixels is the decoded bitmap size above which the cheaper resampler is used.
	DefaultMaxPixels = 40_000_000
	// DefaultMaxDecodePixels is the declared bitmap size above which decoding is refused.
	DefaultMaxDecodePixels = 50_000_000

	qualityDecay     = 0.8
	maxSizedAttempts = 10
)

// Options parameterise a single-pass compression.
type Options struct {
	MaxSide int
	Quality float64
	Format  Format
}

// SizedOptions parameterise the iterative byte-ceiling compression.
type SizedOptions struct {
	MaxSide        int
	MaxBytes       int
	InitialQuality float64
	Format         Format
}

// Result describes the outcome of one compression call. When OK is false,
// Data is nil and Code/Message explain the failure.
type Result struct {
	OK             bool
	Data           []byte
	Width          int
	Height         int
	OriginalSize   int
	CompressedSize int
	Format         Format
	Quality        float64
	Attempts       int
	Code           ErrorCode
	Message        string
}

// Err returns the failure as an *Error, or nil for successful results.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &Error{Code: r.Code, Err: errors.New(r.Message)}
}

// Config controls compressor defaults.
type Config struct {
	MaxSide   int
	Quality   float64
	Format    Format
	MaxPixels int
	// MaxDecodePixels is checked against the header dimensions before any
	// pixel data is decoded.
	MaxDecodePixels int
}

// Compressor turns arbitrary uploads into upright, downscaled, re-encoded images.
// It holds no per-task state and is safe for concurrent use.
type Compressor struct {
	cfg      Config
	primary  draw.Transformer
	fallback draw.Transformer
}

// NewCompressor constructs a Compressor, filling unset config with defaults.
func NewCompressor(cfg Config) *Compressor {
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = DefaultMaxSide
	}
	if cfg.Quality <= 0 || cfg.Quality > 1 {
		cfg.Quality = DefaultQuality
	}
	if cfg.Format == "" {
		cfg.Format = FormatJPEG
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.MaxDecodePixels <= 0 {
		cfg.MaxDecodePixels = max(DefaultMaxDecodePixels, cfg.MaxPixels)
	}
	return &Compressor{
		cfg:      cfg,
		primary:  draw.CatmullRom,
		fallback: draw.ApproxBiLinear,
	}
}

// Compress encodes src exactly once at the requested quality. The resulting
// byte size is accepted whatever it is.
func (c *Compressor) Compress(ctx context.Context, src Source, opts Options) Result {
	logger := logging.FromContext(ctx)
	opts = c.normalize(opts)

	canvas, err := c.render(src, opts.MaxSide, opts.Format)
	if err != nil {
		logger.Warn("image render failed", "name", src.Name, "error", err)
		return failure(src, err)
	}

	data, err := encode(canvas, opts.Format, opts.Quality)
	if err != nil {
		logger.Warn("image encode failed", "name", src.Name, "format", opts.Format, "error", err)
		return failure(src, err)
	}

	return Result{
		OK:             true,
		Data:           data,
		Width:          canvas.Bounds().Dx(),
		Height:         canvas.Bounds().Dy(),
		OriginalSize:   len(src.Data),
		CompressedSize: len(data),
		Format:         opts.Format,
		Quality:        opts.Quality,
		Attempts:       1,
	}
}

// CompressToSize re-encodes with decaying quality until the output fits
// MaxBytes or the attempt budget is spent. The last attempt is returned even
// when it is still above the ceiling.
func (c *Compressor) CompressToSize(ctx context.Context, src Source, opts SizedOptions) Result {
	logger := logging.FromContext(ctx)
	base := c.normalize(Options{MaxSide: opts.MaxSide, Quality: opts.InitialQuality, Format: opts.Format})

	canvas, err := c.render(src, base.MaxSide, base.Format)
	if err != nil {
		logger.Warn("image render failed", "name", src.Name, "error", err)
		return failure(src, err)
	}

	quality := base.Quality
	for attempt := 1; ; attempt++ {
		data, err := encode(canvas, base.Format, quality)
		if err != nil {
			logger.Warn("image encode failed", "name", src.Name, "attempt", attempt, "error", err)
			return failure(src, err)
		}

		if opts.MaxBytes <= 0 || len(data) <= opts.MaxBytes || attempt == maxSizedAttempts {
			if opts.MaxBytes > 0 && len(data) > opts.MaxBytes {
				logger.Info("image size ceiling not reached", "name", src.Name, "size", len(data), "ceiling", opts.MaxBytes)
			}
			return Result{
				OK:             true,
				Data:           data,
				Width:          canvas.Bounds().Dx(),
				Height:         canvas.Bounds().Dy(),
				OriginalSize:   len(src.Data),
				CompressedSize: len(data),
				Format:         base.Format,
				Quality:        quality,
				Attempts:       attempt,
			}
		}
		quality *= qualityDecay
	}
}

func (c *Compressor) normalize(opts Options) Options {
	if opts.MaxSide <= 0 {
		opts.MaxSide = c.cfg.MaxSide
	}
	if opts.Quality <= 0 || opts.Quality > 1 {
		opts.Quality = c.cfg.Quality
	}
	if opts.Format == "" {
		opts.Format = c.cfg.Format
	}
	return opts
}

// render decodes src and draws it upright at the target size onto a fresh canvas.
func (c *Compressor) render(src Source, maxSide int, format Format) (canvas *image.RGBA, err error) {
	if isHEIF(src) {
		return nil, newError(CodeUnsupportedFormat, "heic/heif container %q", src.Name)
	}
	if format != FormatJPEG && format != FormatWEBP {
		return nil, newError(CodeUnsupportedFormat, "output format %q", format)
	}

	defer func() {
		if r := recover(); r != nil {
			canvas, err = nil, newError(CodeDecodeFailure, "panic while rendering: %v", r)
		}
	}()

	header, _, err := image.DecodeConfig(bytes.NewReader(src.Data))
	if err != nil {
		return nil, &Error{Code: CodeDecodeFailure, Err: err}
	}
	if header.Width <= 0 || header.Height <= 0 {
		return nil, newError(CodeDecodeFailure, "empty bitmap")
	}
	if int64(header.Width)*int64(header.Height) > int64(c.cfg.MaxDecodePixels) {
		return nil, newError(CodeDecodeFailure, "bitmap %dx%d exceeds %d pixels", header.Width, header.Height, c.cfg.MaxDecodePixels)
	}

	orientation := ReadOrientation(src.Data)

	img, _, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return nil, &Error{Code: CodeDecodeFailure, Err: err}
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, newError(CodeDecodeFailure, "empty bitmap")
	}

	tw, th := targetSize(bounds.Dx(), bounds.Dy(), maxSide)
	cw, ch := tw, th
	if orientation.SwapsAxes() {
		cw, ch = th, tw
	}

	canvas = image.NewRGBA(image.Rect(0, 0, cw, ch))
	if format == FormatJPEG {
		draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	}

	scaler := c.primary
	if bounds.Dx()*bounds.Dy() > c.cfg.MaxPixels {
		scaler = c.fallback
	}
	scaler.Transform(canvas, orientation.transform(bounds, tw, th), img, bounds, draw.Over, nil)

	return canvas, nil
}

// targetSize scales w×h so the longer side is at most maxSide. It never upscales.
func targetSize(w, h, maxSide int) (int, int) {
	scale := math.Min(1, float64(maxSide)/float64(max(w, h)))
	tw := max(1, int(math.Round(float64(w)*scale)))
	th := max(1, int(math.Round(float64(h)*scale)))
	return tw, th
}

func encode(img image.Image, format Format, quality float64) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, newError(CodeEncodeFailure, "panic while encoding: %v", r)
		}
	}()

	var buf bytes.Buffer
	switch format {
	case FormatWEBP:
		err = webp.Encode(&buf, img, webp.Options{Quality: encoderQuality(quality), Method: 4})
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: encoderQuality(quality)})
	}
	if err != nil {
		return nil, &Error{Code: CodeEncodeFailure, Err: err}
	}
	return buf.Bytes(), nil
}

// encoderQuality maps a (0, 1] hint onto the 1..100 scale encoders use.
func encoderQuality(q float64) int {
	return min(100, max(1, int(math.Round(q*100))))
}

func failure(src Source, err error) Result {
	res := Result{OriginalSize: len(src.Data), Code: CodeDecodeFailure, Message: err.Error()}
	var e *Error
	if errors.As(err, &e) {
		res.Code = e.Code
	}
	return res
}
