// SPDX-License-Identifier: MIT

package derive

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/cubhouse/mom/internal/content"
)

// IdentityHash computes the content-addressed cache key for (input,
// derivation).
// The mixing order is fixed: input content hash, then the variant's fields in
// declared order, then the variant's pipeline-version tag. Identical inputs
// always yield identical identities; bumping a pipeline tag is the only way
// to invalidate a transform family's cache.
//
// Passthrough and Identity return the input's own hash unchanged: their
// output bytes equal the input bytes, so no mixing is needed.
func IdentityHash(in content.Input, d Derivation) content.Hash {
	switch v := d.(type) {
	case Passthrough, Identity:
		return in.ContentHash
	case Bitmap:
		return mix(in.ContentHash, v.pipelineTag(),
			string(v.Codec), strconv.Itoa(v.Width))
	case Video:
		return mix(in.ContentHash, v.pipelineTag(),
			string(v.Container), string(v.VideoCodec), string(v.AudioCodec))
	case VideoThumbnail:
		return mix(in.ContentHash, v.pipelineTag(), string(v.Codec))
	case DrawioRender:
		return mix(in.ContentHash, v.pipelineTag(), v.FontFaces...)
	case SvgCleanup:
		return mix(in.ContentHash, v.pipelineTag())
	default:
		// Unknown variants are rejected by Validate before any caller gets
		// here; mixing the type-less tag keeps this total anyway.
		return mix(in.ContentHash, "unknown")
	}
}

func mix(h content.Hash, tag string, fields ...string) content.Hash {
	d := xxhash.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(h))
	_, _ = d.Write(buf[:])

	// NUL separators keep adjacent fields from running together.
	for _, f := range fields {
		_, _ = d.WriteString(f)
		_, _ = d.Write([]byte{0})
	}
	_, _ = d.WriteString(tag)

	return content.Hash(d.Sum64())
}
