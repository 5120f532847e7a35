// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubhouse/mom/internal/derive"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	require.NoError(t, imaging.Save(img, path))
}

func TestRecodeThumbnailWebp(t *testing.T) {
	dir := t.TempDir()
	intermediate := filepath.Join(dir, "poster.intermediate.png")
	out := filepath.Join(dir, "poster.webp")
	writeTestPNG(t, intermediate, 320, 180)

	require.NoError(t, recodeThumbnail(intermediate, out, derive.VideoThumbnail{Codec: derive.ThumbWEBP}))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	img, err := webp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 180, img.Bounds().Dy())

	// Intermediate cleaned up.
	assert.NoFileExists(t, intermediate)
}

func TestRecodeThumbnailDownscalesWideFrames(t *testing.T) {
	dir := t.TempDir()
	intermediate := filepath.Join(dir, "wide.intermediate.png")
	out := filepath.Join(dir, "wide.webp")
	writeTestPNG(t, intermediate, thumbMaxWidth+800, 400)

	require.NoError(t, recodeThumbnail(intermediate, out, derive.VideoThumbnail{Codec: derive.ThumbWEBP}))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	img, err := webp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, thumbMaxWidth, img.Bounds().Dx())
}

func TestRecodeThumbnailRejectsUnknownCodec(t *testing.T) {
	dir := t.TempDir()
	intermediate := filepath.Join(dir, "p.png")
	writeTestPNG(t, intermediate, 10, 10)

	err := recodeThumbnail(intermediate, filepath.Join(dir, "p.jxl"), derive.VideoThumbnail{Codec: derive.ThumbJXL})
	assert.Error(t, err)
}

func TestRecodeThumbnailMissingIntermediate(t *testing.T) {
	dir := t.TempDir()
	err := recodeThumbnail(filepath.Join(dir, "absent.png"), filepath.Join(dir, "out.webp"),
		derive.VideoThumbnail{Codec: derive.ThumbWEBP})
	assert.Error(t, err)
}
