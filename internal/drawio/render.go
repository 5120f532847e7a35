// SPDX-License-Identifier: MIT

// Package drawio renders draw.io diagrams to SVG through the drawio desktop
// CLI. Rendering is a short-lived subprocess per diagram; it is cheap enough
// that it runs outside the encode concurrency gate.
package drawio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cubhouse/mom/internal/log"
)

// DefaultBinPath is the drawio CLI binary resolved from PATH.
const DefaultBinPath = "drawio"

// Renderer converts diagram sources to SVG.
type Renderer struct {
	// BinPath is the converter binary. Tests point it at a shell.
	BinPath string

	// Args overrides converter argument construction. Nil uses the standard
	// export flags; tests substitute shell stand-ins.
	Args func(inPath, outPath string) []string
}

// NewRenderer builds a Renderer with the default binary.
func NewRenderer() *Renderer {
	return &Renderer{BinPath: DefaultBinPath}
}

func (r *Renderer) args(inPath, outPath string) []string {
	if r.Args != nil {
		return r.Args(inPath, outPath)
	}
	// --no-sandbox because the CLI is electron underneath and the daemon may
	// run as root in a container.
	return []string{"--no-sandbox", "-x", "-f", "svg", "-o", outPath, inPath}
}

// Render converts one diagram to SVG and injects the given font-face
// declarations into the result. The subprocess inherits ctx cancellation.
func (r *Renderer) Render(ctx context.Context, diagram []byte, fontFaces []string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "drawio-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	inPath := filepath.Join(dir, "diagram.drawio")
	outPath := filepath.Join(dir, "diagram.svg")
	if err := os.WriteFile(inPath, diagram, 0o600); err != nil {
		return nil, fmt.Errorf("write diagram: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.BinPath, r.args(inPath, outPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger := log.WithComponentFromContext(ctx, "drawio")
	logger.Debug().Str("bin", r.BinPath).Msg("rendering diagram")

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("diagram render failed: %w: %s", err, lastLine(stderr.String()))
	}

	rendered, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("converter produced no output: %w", err)
	}

	out, err := InjectFontFaces(rendered, fontFaces)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("diagram_bytes", len(diagram)).Int("svg_bytes", len(out)).Msg("diagram rendered")
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
