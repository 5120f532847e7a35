// SPDX-License-Identifier: MIT

package drawio

import (
	"errors"
	"regexp"
	"strings"
)

var svgOpenRe = regexp.MustCompile(`(?is)<svg\b[^>]*>`)

// InjectFontFaces inserts the given @font-face declarations as a style block
// right after the opening svg tag so self-hosted fonts resolve when the
// rendered diagram is served standalone. No-op for an empty declaration list.
func InjectFontFaces(doc []byte, fontFaces []string) ([]byte, error) {
	if len(fontFaces) == 0 {
		return doc, nil
	}

	loc := svgOpenRe.FindIndex(doc)
	if loc == nil {
		return nil, errors.New("rendered diagram has no svg root element")
	}

	var b strings.Builder
	b.Write(doc[:loc[1]])
	b.WriteString(`<defs><style type="text/css">`)
	for _, face := range fontFaces {
		b.WriteString(face)
		b.WriteByte('\n')
	}
	b.WriteString(`</style></defs>`)
	b.Write(doc[loc[1]:])
	return []byte(b.String()), nil
}
