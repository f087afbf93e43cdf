package imageproc

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	return logger.New().WithContext(context.Background())
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestResize_FitsWithinBounds(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "out", "preview.jpg")
	writePNG(t, src, 400, 200)

	err := New("", time.Minute).Resize(testContext(), src, dst, Dimensions{MaxWidth: 100, MaxHeight: 100}, 80)
	require.NoError(t, err)

	img, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestResize_UnconstrainedKeepsSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "full.jpg")
	writePNG(t, src, 64, 48)

	require.NoError(t, New("", time.Minute).Resize(testContext(), src, dst, Dimensions{}, 92))

	img, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestResize_KeepsPNGFormat(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "preview.png")
	writePNG(t, src, 32, 32)

	require.NoError(t, New("", time.Minute).Resize(testContext(), src, dst, Dimensions{MaxWidth: 16, MaxHeight: 16}, 80))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	_, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestResize_MissingSource(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "preview.jpg")

	err := New("", time.Minute).Resize(testContext(), filepath.Join(dir, "missing.png"), dst, Dimensions{MaxWidth: 10, MaxHeight: 10}, 80)
	require.Error(t, err)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestResize_UndecodableWithoutFFmpeg(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.heic")
	require.NoError(t, os.WriteFile(src, []byte("not an image"), 0600))

	orig := ffmpegBinary
	ffmpegBinary = filepath.Join(dir, "no-such-ffmpeg")
	t.Cleanup(func() { ffmpegBinary = orig })

	err := New("", time.Minute).Resize(testContext(), src, filepath.Join(dir, "out.jpg"), Dimensions{MaxWidth: 10}, 80)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all image decode methods failed")
}
