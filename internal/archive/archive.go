// Package archive bundles rendered page images for download.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/imagerender"
	"github.com/local/pageforge/internal/metrics"
)

// ErrNoImages is returned when packaging is requested with nothing to pack.
var ErrNoImages = errors.New("no images to package")

const maxBaseNameLen = 64

// PackageAll writes every image into a zip archive, one entry per page,
// named {baseName}_page_{n}.{ext}. Entry names are deduplicated with a
// numeric suffix; duplicate page numbers should not occur within a run.
func PackageAll(images []imagerender.PageImage, baseName string, format imagerender.Format) ([]byte, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	used := make(map[string]bool, len(images))
	for _, img := range images {
		name := entryName(baseName, img.PageNumber, format)
		for i := 2; used[name]; i++ {
			name = fmt.Sprintf("%s_page_%d_%d.%s", baseName, img.PageNumber, i, format.Extension())
		}
		used[name] = true
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := w.Write(img.Data); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	metrics.ObserveArchive(buf.Len())
	log.Info().Int("images", len(images)).Int("bytes", buf.Len()).Str("base", baseName).Msg("archive packaged")
	return buf.Bytes(), nil
}

// PackageSingle names one image for download using the same scheme as the
// archive entries and returns the name alongside the encoded bytes.
func PackageSingle(img imagerender.PageImage, baseName string, format imagerender.Format) (string, []byte) {
	return entryName(baseName, img.PageNumber, format), img.Data
}

func entryName(baseName string, page int, format imagerender.Format) string {
	return fmt.Sprintf("%s_page_%d.%s", baseName, page, format.Extension())
}

// BaseName picks the base name for downloads: the suggested name when it
// survives sanitization, else the document name with its extension stripped,
// else "document_export".
func BaseName(suggested, docName string) string {
	if s := SanitizeFileName(suggested, ""); s != "" {
		return s
	}
	trimmed := strings.TrimSuffix(docName, filepath.Ext(docName))
	if s := SanitizeFileName(trimmed, ""); s != "" {
		return s
	}
	return "document_export"
}

// SanitizeFileName lowercases the name, maps spaces to underscores, drops
// everything outside [a-z0-9._-], collapses separator runs and caps the
// length. An empty result yields fallback.
func SanitizeFileName(name, fallback string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	prevSep := true // swallow leading separators
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevSep = false
		case r == ' ', r == '_', r == '-', r == '.':
			if prevSep {
				continue
			}
			if r == ' ' {
				r = '_'
			}
			b.WriteRune(r)
			prevSep = true
		}
	}
	out := strings.TrimRight(b.String(), "._-")
	if len(out) > maxBaseNameLen {
		out = strings.TrimRight(out[:maxBaseNameLen], "._-")
	}
	if out == "" {
		return fallback
	}
	return out
}
