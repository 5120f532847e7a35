// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"fmt"

	"github.com/cubhouse/mom/internal/derive"
)

// Target describes one encode the supervisor should run. Exactly one of
// Video/Thumb is set.
type Target struct {
	Video *derive.Video
	Thumb *derive.VideoThumbnail
}

// VideoTarget builds a Target for a full transcode.
func VideoTarget(v derive.Video) Target {
	return Target{Video: &v}
}

// ThumbnailTarget builds a Target for a still extraction.
func ThumbnailTarget(t derive.VideoThumbnail) Target {
	return Target{Thumb: &t}
}

// Kind returns the derivation kind for metrics/logging.
func (t Target) Kind() string {
	if t.Video != nil {
		return t.Video.Kind()
	}
	if t.Thumb != nil {
		return t.Thumb.Kind()
	}
	return "unknown"
}

// needsPostprocess reports whether the primary encode produces a PNG
// intermediate that is recoded in-process afterwards.
func (t Target) needsPostprocess() bool {
	return t.Thumb != nil && t.Thumb.Codec == derive.ThumbWEBP
}

// thumbSeek is how far into the video the poster frame is taken from. Frame
// zero is often black or a fade-in.
const thumbSeek = "1.0"

// BuildArgs assembles the full encoder argument list for one run. The input
// is always a local file; progress goes to stdout as key=value blocks and
// logs to stderr with level prefixes.
func BuildArgs(inputPath, outputPath string, t Target) ([]string, error) {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-loglevel", "level+info",
		"-progress", "pipe:1",
		"-stats_period", "0.5",
	}

	switch {
	case t.Video != nil:
		v := t.Video
		args = append(args, "-i", inputPath)

		switch v.VideoCodec {
		case derive.CodecAV1:
			args = append(args,
				"-c:v", "libsvtav1",
				"-preset", "6",
				"-crf", "32",
				"-g", "240",
				"-pix_fmt", "yuv420p10le",
			)
		case derive.CodecVP9:
			args = append(args,
				"-c:v", "libvpx-vp9",
				"-b:v", "0",
				"-crf", "34",
				"-row-mt", "1",
				"-deadline", "good",
				"-cpu-used", "2",
				"-pix_fmt", "yuv420p",
			)
		default:
			return nil, fmt.Errorf("no encoder profile for video codec %q", v.VideoCodec)
		}

		switch v.AudioCodec {
		case derive.AudioOpus:
			args = append(args, "-c:a", "libopus", "-b:a", "128k")
		case derive.AudioAAC:
			args = append(args, "-c:a", "aac", "-b:a", "160k")
		case derive.AudioNone:
			args = append(args, "-an")
		default:
			return nil, fmt.Errorf("no encoder profile for audio codec %q", v.AudioCodec)
		}

		switch v.Container {
		case derive.ContainerWebM:
			args = append(args, "-f", "webm")
		case derive.ContainerMP4:
			args = append(args, "-f", "mp4", "-movflags", "+faststart")
		default:
			return nil, fmt.Errorf("no muxer profile for container %q", v.Container)
		}

	case t.Thumb != nil:
		args = append(args, "-ss", thumbSeek, "-i", inputPath, "-frames:v", "1")

		switch t.Thumb.Codec {
		case derive.ThumbJXL:
			args = append(args, "-c:v", "libjxl", "-distance", "1.0", "-f", "image2")
		case derive.ThumbAVIF:
			args = append(args,
				"-c:v", "libaom-av1",
				"-still-picture", "1",
				"-crf", "30",
				"-f", "avif",
			)
		case derive.ThumbWEBP, derive.ThumbPNG:
			// WEBP is recoded in-process from this PNG intermediate.
			args = append(args, "-c:v", "png", "-f", "image2")
		default:
			return nil, fmt.Errorf("no encoder profile for thumbnail codec %q", t.Thumb.Codec)
		}

	default:
		return nil, fmt.Errorf("encode target is empty")
	}

	return append(args, outputPath), nil
}
