// Package imageprocessor downsamples large uploads before they are sent to the
// inference service. Processing is best effort: any failure yields the
// original image.
package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"mime"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/example/bakeready/internal/prediction"
)

const (
	// DefaultThreshold is the largest payload sent without downsampling.
	DefaultThreshold = 500_000
	// DefaultMaxSide bounds both output dimensions.
	DefaultMaxSide = 1000
	// DefaultJPEGQuality corresponds to an encoder quality of 0.9.
	DefaultJPEGQuality = 90
	// maxPixels guards against decompression bombs.
	maxPixels = 100_000_000
)

var errUnsupportedFormat = errors.New("unsupported output format")

// Preprocessor conditionally resizes images while preserving aspect ratio.
type Preprocessor struct {
	logger      *zap.Logger
	threshold   int64
	maxSide     int
	jpegQuality int
}

// NewPreprocessor returns a preprocessor with the default limits.
func NewPreprocessor(logger *zap.Logger) *Preprocessor {
	return &Preprocessor{
		logger:      logger.Named("preprocessor"),
		threshold:   DefaultThreshold,
		maxSide:     DefaultMaxSide,
		jpegQuality: DefaultJPEGQuality,
	}
}

// Process returns img unchanged when it is small enough or cannot be
// processed, and a re-encoded, downsampled copy otherwise. It never fails.
func (p *Preprocessor) Process(img prediction.Image) prediction.Image {
	if img.Size <= p.threshold {
		return img
	}

	resized, err := p.downsample(img)
	if err != nil {
		p.logger.Warn("preprocessing failed, sending original image",
			zap.String("name", img.Name),
			zap.String("mime_type", img.MIMEType),
			zap.Int64("size", img.Size),
			zap.String("kind", string(prediction.KindPreprocess)),
			zap.Error(err))
		return img
	}
	return resized
}

// downsample holds the fallible part of Process. A nil error with the input
// image means no resize was necessary.
func (p *Preprocessor) downsample(img prediction.Image) (out prediction.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = img, fmt.Errorf("image library panic: %v", r)
		}
	}()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return img, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return img, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return img, fmt.Errorf("image too large to decode: %dx%d", cfg.Width, cfg.Height)
	}

	width, height, ok := ScaledSize(cfg.Width, cfg.Height, p.maxSide)
	if !ok {
		return img, nil
	}

	format, err := formatFor(img.MIMEType)
	if err != nil {
		return img, err
	}

	src, err := imaging.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return img, fmt.Errorf("decode: %w", err)
	}

	dst := imaging.Resize(src, width, height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, format, imaging.JPEGQuality(p.jpegQuality)); err != nil {
		return img, fmt.Errorf("encode %s: %w", format, err)
	}
	if buf.Len() == 0 {
		return img, errors.New("encoder produced no output")
	}

	p.logger.Debug("image downsampled",
		zap.String("name", img.Name),
		zap.Int("source_width", cfg.Width),
		zap.Int("source_height", cfg.Height),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int64("source_size", img.Size),
		zap.Int("size", buf.Len()))

	return prediction.NewImage(buf.Bytes(), img.Name, img.MIMEType), nil
}

// ScaledSize fits width x height into a maxSide square. ok is false when the
// image already fits, since images are never upsampled.
func ScaledSize(width, height, maxSide int) (w, h int, ok bool) {
	scale := math.Min(float64(maxSide)/float64(width), float64(maxSide)/float64(height))
	if scale >= 1 {
		return width, height, false
	}
	w = clampSide(math.Round(float64(width)*scale), maxSide)
	h = clampSide(math.Round(float64(height)*scale), maxSide)
	return w, h, true
}

func clampSide(v float64, maxSide int) int {
	return max(1, min(int(v), maxSide))
}

func formatFor(mimeType string) (imaging.Format, error) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch mediaType {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return imaging.JPEG, nil
	case "image/png":
		return imaging.PNG, nil
	case "image/gif":
		return imaging.GIF, nil
	case "image/bmp", "image/x-ms-bmp":
		return imaging.BMP, nil
	case "image/tiff":
		return imaging.TIFF, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnsupportedFormat, mimeType)
	}
}
