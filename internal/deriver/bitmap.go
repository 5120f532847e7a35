// SPDX-License-Identifier: MIT

package deriver

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"  // bitmap source decoding
	_ "golang.org/x/image/tiff" // bitmap source decoding
	_ "golang.org/x/image/webp" // bitmap source decoding

	"github.com/cubhouse/mom/internal/derive"
)

const (
	jpegQuality = 85
	webpQuality = 82
)

// transcodeBitmap recodes a still image in-process. Width caps the output;
// images narrower than the target are never upscaled.
func transcodeBitmap(data []byte, d derive.Bitmap) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	if d.Width > 0 && img.Bounds().Dx() > d.Width {
		img = imaging.Resize(img, d.Width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch d.Codec {
	case derive.BitmapWEBP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: webpQuality})
	case derive.BitmapJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	case derive.BitmapPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case derive.BitmapGIF:
		err = imaging.Encode(&buf, img, imaging.GIF)
	case derive.BitmapBMP:
		err = imaging.Encode(&buf, img, imaging.BMP)
	case derive.BitmapTIFF:
		err = imaging.Encode(&buf, img, imaging.TIFF)
	default:
		return nil, fmt.Errorf("no bitmap profile for codec %q", d.Codec)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Codec, err)
	}
	return buf.Bytes(), nil
}
