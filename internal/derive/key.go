// SPDX-License-Identifier: MIT

package derive

import (
	"github.com/cubhouse/mom/internal/content"
)

// Key returns the destination object-store key for a derived artifact. It is
// a pure function of (environment, identity, extension), never wall-clock
// time or hostname, so every worker converges on the same key for the same
// logical artifact.
func Key(env string, id content.Hash, ext string) string {
	if env == "" {
		env = "dev"
	}
	if ext == "" {
		ext = "bin"
	}
	return env + "/derived/" + id.Hex() + "." + ext
}

// SourceKey returns the object-store key holding an input's raw bytes.
func SourceKey(env string, in content.Input) string {
	if env == "" {
		env = "dev"
	}
	return env + "/source/" + in.ContentHash.Hex() + "." + content.ExtensionFor(in.ContentType)
}
