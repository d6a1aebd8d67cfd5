package imageprocessor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/bakeready/internal/prediction"
)

func noise(width, height int) *image.NRGBA {
	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, noise(width, height), &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, noise(width, height)))
	return buf.Bytes()
}

func TestProcessKeepsSmallImages(t *testing.T) {
	data := encodeJPEG(t, 1600, 20)
	require.LessOrEqual(t, len(data), DefaultThreshold)

	img := prediction.NewImage(data, "small.jpg", "image/jpeg")
	out := NewPreprocessor(zap.NewNop()).Process(img)

	require.Equal(t, img, out)
}

func TestProcessKeepsLargePayloadThatAlreadyFits(t *testing.T) {
	data := encodePNG(t, 900, 900)
	require.Greater(t, len(data), DefaultThreshold)

	img := prediction.NewImage(data, "fits.png", "image/png")
	out := NewPreprocessor(zap.NewNop()).Process(img)

	require.Equal(t, img, out)
}

func TestProcessDownsamplesPreservingAspectRatio(t *testing.T) {
	cases := []struct {
		name          string
		width, height int
	}{
		{name: "landscape", width: 2000, height: 1000},
		{name: "portrait uneven", width: 1001, height: 1500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := encodeJPEG(t, tc.width, tc.height)
			require.Greater(t, len(data), DefaultThreshold)

			img := prediction.NewImage(data, "big.jpg", "image/jpeg")
			out := NewPreprocessor(zap.NewNop()).Process(img)

			require.NotEqual(t, img.Data, out.Data)
			require.Equal(t, "big.jpg", out.Name)
			require.Equal(t, "image/jpeg", out.MIMEType)
			require.Equal(t, int64(len(out.Data)), out.Size)

			cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
			require.NoError(t, err)
			require.Equal(t, "jpeg", format)
			require.LessOrEqual(t, cfg.Width, DefaultMaxSide)
			require.LessOrEqual(t, cfg.Height, DefaultMaxSide)
			require.Equal(t, DefaultMaxSide, max(cfg.Width, cfg.Height))

			expectedHeight := float64(cfg.Width) * float64(tc.height) / float64(tc.width)
			require.LessOrEqual(t, math.Abs(float64(cfg.Height)-expectedHeight), 1.0)
		})
	}
}

func TestProcessKeepsPNGFormat(t *testing.T) {
	data := encodePNG(t, 1200, 600)
	img := prediction.NewImage(data, "big.png", "image/png")

	out := NewPreprocessor(zap.NewNop()).Process(img)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 1000, cfg.Width)
	require.Equal(t, 500, cfg.Height)
}

func TestProcessFallsBackOnBadInput(t *testing.T) {
	large := encodeJPEG(t, 2000, 1000)

	cases := []struct {
		name string
		img  prediction.Image
	}{
		{name: "empty", img: prediction.NewImage(nil, "empty.jpg", "image/jpeg")},
		{name: "corrupt", img: prediction.NewImage(bytes.Repeat([]byte{0xAB}, DefaultThreshold+1), "corrupt.jpg", "image/jpeg")},
		{name: "truncated", img: prediction.NewImage(large[:DefaultThreshold+1], "truncated.jpg", "image/jpeg")},
		{name: "unsupported output type", img: prediction.NewImage(large, "big.webp", "image/webp")},
		{name: "declared size without payload", img: prediction.Image{Size: DefaultThreshold + 1, Name: "ghost.jpg", MIMEType: "image/jpeg"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPreprocessor(zap.NewNop())
			var out prediction.Image
			require.NotPanics(t, func() { out = p.Process(tc.img) })
			require.Equal(t, tc.img, out)
		})
	}
}

func TestScaledSize(t *testing.T) {
	w, h, ok := ScaledSize(4000, 3000, 1000)
	require.True(t, ok)
	require.Equal(t, 1000, w)
	require.Equal(t, 750, h)

	w, h, ok = ScaledSize(1000, 800, 1000)
	require.False(t, ok)
	require.Equal(t, 1000, w)
	require.Equal(t, 800, h)

	w, h, ok = ScaledSize(100000, 10, 1000)
	require.True(t, ok)
	require.Equal(t, 1000, w)
	require.Equal(t, 1, h)
}

func TestFormatFor(t *testing.T) {
	_, err := formatFor("image/jpeg; charset=binary")
	require.NoError(t, err)
	_, err = formatFor("IMAGE/PNG")
	require.NoError(t, err)
	_, err = formatFor("application/octet-stream")
	require.ErrorIs(t, err, errUnsupportedFormat)
}
