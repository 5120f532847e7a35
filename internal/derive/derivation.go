// SPDX-License-Identifier: MIT

// Package derive defines the declarative transforms the build pipeline can
// apply to an input and the content-addressed identity of each (input,
// transform) pair.
package derive

import (
	"errors"
	"fmt"
)

// ErrInvalid tags derivation validation failures so transport layers can map
// them to client errors.
var ErrInvalid = errors.New("invalid derivation")

// Derivation describes what to compute from an Input. The variant set is
// closed; the executor matches exhaustively and rejects anything else.
type Derivation interface {
	// Kind returns the stable name of the variant, used in metrics and keys.
	Kind() string
	// pipelineTag is the per-transform version literal mixed into the
	// identity. Bumping it is the only sanctioned cache invalidation for
	// that transform family. Empty for variants that do not alter bytes.
	pipelineTag() string

	isDerivation()
}

// BitmapCodec enumerates the in-process image transcode targets.
type BitmapCodec string

const (
	BitmapJPEG BitmapCodec = "jpeg"
	BitmapPNG  BitmapCodec = "png"
	BitmapGIF  BitmapCodec = "gif"
	BitmapWEBP BitmapCodec = "webp"
	BitmapBMP  BitmapCodec = "bmp"
	BitmapTIFF BitmapCodec = "tiff"
)

func (c BitmapCodec) valid() bool {
	switch c {
	case BitmapJPEG, BitmapPNG, BitmapGIF, BitmapWEBP, BitmapBMP, BitmapTIFF:
		return true
	}
	return false
}

// ContentType returns the MIME type produced by this codec.
func (c BitmapCodec) ContentType() string {
	return "image/" + string(c)
}

// VideoContainer enumerates supported output containers.
type VideoContainer string

const (
	ContainerWebM VideoContainer = "webm"
	ContainerMP4  VideoContainer = "mp4"
)

// VideoCodec enumerates supported video codecs.
type VideoCodec string

const (
	CodecAV1 VideoCodec = "av1"
	CodecVP9 VideoCodec = "vp9"
)

// AudioCodec enumerates supported audio codecs.
type AudioCodec string

const (
	AudioOpus AudioCodec = "opus"
	AudioAAC  AudioCodec = "aac"
	AudioNone AudioCodec = "none"
)

// ThumbCodec enumerates video-thumbnail still codecs. JXL and AVIF are
// encoded by the external encoder; WEBP is recoded in-process from a PNG
// intermediate after the primary encode.
type ThumbCodec string

const (
	ThumbJXL  ThumbCodec = "jxl"
	ThumbAVIF ThumbCodec = "avif"
	ThumbWEBP ThumbCodec = "webp"
	ThumbPNG  ThumbCodec = "png"
)

// Passthrough serves the input bytes unchanged.
type Passthrough struct{}

// Identity is semantically identical to Passthrough but is requested
// explicitly by callers that want a stable alias for the raw artifact.
type Identity struct{}

// Bitmap transcodes a still image in-process. Width 0 keeps the source width.
type Bitmap struct {
	Codec BitmapCodec
	Width int
}

// Video transcodes to the given container/codec combination via the external
// encoder.
type Video struct {
	Container  VideoContainer
	VideoCodec VideoCodec
	AudioCodec AudioCodec
}

// VideoThumbnail extracts a representative still from a video.
type VideoThumbnail struct {
	Codec ThumbCodec
}

// DrawioRender renders a draw.io diagram to SVG and injects the given
// font-face declarations.
type DrawioRender struct {
	FontFaces []string
}

// SvgCleanup strips scripts, event handlers and editor metadata from an SVG.
type SvgCleanup struct{}

func (Passthrough) Kind() string    { return "passthrough" }
func (Identity) Kind() string       { return "identity" }
func (Bitmap) Kind() string         { return "bitmap" }
func (Video) Kind() string          { return "video" }
func (VideoThumbnail) Kind() string { return "video_thumbnail" }
func (DrawioRender) Kind() string   { return "drawio_render" }
func (SvgCleanup) Kind() string     { return "svg_cleanup" }

// Pipeline version tags. Bump when the corresponding transform's algorithm
// changes; everything previously cached under the old tag becomes
// unreachable.
const (
	bitmapPipelineTag = "bitmap-pipeline-2025-04-08"
	videoPipelineTag  = "video-pipeline-2025-05-20"
	vthumbPipelineTag = "vthumb-pipeline-2025-05-20"
	drawioPipelineTag = "drawio-pipeline-2025-03-14"
	svgPipelineTag    = "svgclean-pipeline-2025-02-11"
)

func (Passthrough) pipelineTag() string    { return "" }
func (Identity) pipelineTag() string       { return "" }
func (Bitmap) pipelineTag() string         { return bitmapPipelineTag }
func (Video) pipelineTag() string          { return videoPipelineTag }
func (VideoThumbnail) pipelineTag() string { return vthumbPipelineTag }
func (DrawioRender) pipelineTag() string   { return drawioPipelineTag }
func (SvgCleanup) pipelineTag() string     { return svgPipelineTag }

func (Passthrough) isDerivation()    {}
func (Identity) isDerivation()       {}
func (Bitmap) isDerivation()         {}
func (Video) isDerivation()          {}
func (VideoThumbnail) isDerivation() {}
func (DrawioRender) isDerivation()   {}
func (SvgCleanup) isDerivation()     {}

// Validate rejects unsupported parameter combinations before any work is
// admitted or any subprocess spawned.
func Validate(d Derivation) error {
	switch v := d.(type) {
	case Passthrough, Identity, SvgCleanup, DrawioRender:
		return nil
	case Bitmap:
		if !v.Codec.valid() {
			return fmt.Errorf("unsupported bitmap codec %q", v.Codec)
		}
		if v.Width < 0 || v.Width > 16384 {
			return fmt.Errorf("bitmap width %d out of range", v.Width)
		}
		return nil
	case Video:
		switch v.Container {
		case ContainerWebM:
			if v.VideoCodec != CodecAV1 && v.VideoCodec != CodecVP9 {
				return fmt.Errorf("container webm does not support video codec %q", v.VideoCodec)
			}
			if v.AudioCodec != AudioOpus && v.AudioCodec != AudioNone {
				return fmt.Errorf("container webm does not support audio codec %q", v.AudioCodec)
			}
		case ContainerMP4:
			if v.VideoCodec != CodecAV1 {
				return fmt.Errorf("container mp4 does not support video codec %q", v.VideoCodec)
			}
			if v.AudioCodec != AudioAAC && v.AudioCodec != AudioNone {
				return fmt.Errorf("container mp4 does not support audio codec %q", v.AudioCodec)
			}
		default:
			return fmt.Errorf("unsupported video container %q", v.Container)
		}
		return nil
	case VideoThumbnail:
		switch v.Codec {
		case ThumbJXL, ThumbAVIF, ThumbWEBP, ThumbPNG:
			return nil
		}
		return fmt.Errorf("unsupported thumbnail codec %q", v.Codec)
	default:
		return fmt.Errorf("unknown derivation variant %T", d)
	}
}

// OutputContentType returns the MIME type a derivation produces for the given
// input content type.
func OutputContentType(d Derivation, inputType string) string {
	switch v := d.(type) {
	case Passthrough, Identity:
		return inputType
	case Bitmap:
		return v.Codec.ContentType()
	case Video:
		switch v.Container {
		case ContainerMP4:
			return "video/mp4"
		default:
			return "video/webm"
		}
	case VideoThumbnail:
		return "image/" + string(v.Codec)
	case DrawioRender, SvgCleanup:
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
