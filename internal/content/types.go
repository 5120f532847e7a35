// SPDX-License-Identifier: MIT

package content

import (
	"path/filepath"
	"strings"
)

// TypeForPath guesses a MIME type from the file extension. Only the types the
// pipeline actually transforms are mapped; everything else is served opaque.
func TypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return "text/markdown"
	case ".html":
		return "text/html"
	case ".svg":
		return "image/svg+xml"
	case ".drawio":
		return "application/vnd.jgraph.mxfile"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".avif":
		return "image/avif"
	case ".jxl":
		return "image/jxl"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}

// ExtensionFor returns the canonical file extension (without dot) for a MIME
// type, falling back to "bin".
func ExtensionFor(contentType string) string {
	switch contentType {
	case "text/markdown":
		return "md"
	case "text/html":
		return "html"
	case "image/svg+xml":
		return "svg"
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	case "image/avif":
		return "avif"
	case "image/jxl":
		return "jxl"
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	case "video/quicktime":
		return "mov"
	case "video/x-matroska":
		return "mkv"
	default:
		return "bin"
	}
}
