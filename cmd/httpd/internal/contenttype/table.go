// Package contenttype holds the read-only extension to MIME type table.
package contenttype

import (
	"path"
	"strings"
)

// DefaultType is used when nothing else identifies a file.
const DefaultType = "application/octet-stream"

// Table maps a lowercase extension without the dot to a MIME type.
// It is never modified after NewTable returns, so it is safe for
// concurrent use.
type Table struct {
	types map[string]string
}

// Builtin returns the entries every table starts from.
func Builtin() map[string]string {
	return map[string]string{
		"html": "text/html",
		"htm":  "text/html",
		"txt":  "text/plain",
	}
}

// NewTable merges the given sources in order; later entries win.
func NewTable(sources ...map[string]string) *Table {
	types := make(map[string]string)
	for _, src := range sources {
		for ext, mime := range src {
			ext = normalize(ext)
			mime = strings.TrimSpace(mime)
			if ext == "" || mime == "" {
				continue
			}
			types[ext] = mime
		}
	}
	return &Table{types: types}
}

// Lookup returns the MIME type registered for ext. ext may carry a leading
// dot and any case.
func (t *Table) Lookup(ext string) (string, bool) {
	if t == nil {
		return "", false
	}
	mime, ok := t.types[normalize(ext)]
	return mime, ok
}

// ForPath looks up the extension of p.
func (t *Table) ForPath(p string) (string, bool) {
	ext := path.Ext(p)
	if ext == "" {
		return "", false
	}
	return t.Lookup(ext)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.types)
}

func normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
