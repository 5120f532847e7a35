// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"fmt"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/cubhouse/mom/internal/derive"
)

// thumbMaxWidth caps poster frames; sources above this are downscaled during
// the in-process recode.
const thumbMaxWidth = 1920

// thumbWebpQuality is the lossy quality for WEBP posters.
const thumbWebpQuality = 82

// recodeThumbnail converts the encoder's PNG intermediate into the final
// thumbnail codec in-process. It runs after the primary encode reports
// success and before the supervisor delivers its terminal event; the
// intermediate is removed on success.
func recodeThumbnail(intermediatePath, outPath string, t derive.VideoThumbnail) error {
	img, err := imaging.Open(intermediatePath)
	if err != nil {
		return fmt.Errorf("open thumbnail intermediate: %w", err)
	}

	if img.Bounds().Dx() > thumbMaxWidth {
		img = imaging.Resize(img, thumbMaxWidth, 0, imaging.Lanczos)
	}

	switch t.Codec {
	case derive.ThumbWEBP:
		f, err := os.Create(outPath) // #nosec G304 -- path is derived, not caller-supplied
		if err != nil {
			return fmt.Errorf("create thumbnail output: %w", err)
		}
		if err := webp.Encode(f, img, &webp.Options{Quality: thumbWebpQuality}); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode webp thumbnail: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("no in-process recode for thumbnail codec %q", t.Codec)
	}

	_ = os.Remove(intermediatePath)
	return nil
}
