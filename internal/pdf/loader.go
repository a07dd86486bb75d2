package pdf

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/metrics"
)

// probeFunc counts pages independently of the rendering library. Swappable
// in tests.
type probeFunc func(data []byte) (int, error)

func pdfcpuPageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), nil)
}

// Loader validates a raw byte buffer and opens it into a Handle. Validation
// happens in three stages: magic-byte MIME detection, an independent pdfcpu
// page-count probe, and finally the rendering library open. The loader keeps
// everything in memory; it never writes to disk.
type Loader struct {
	opener   Opener
	probe    probeFunc
	maxBytes int64
}

// NewLoader creates a Loader. maxBytes <= 0 disables the size limit.
func NewLoader(opener Opener, maxBytes int64) *Loader {
	return &Loader{opener: opener, probe: pdfcpuPageCount, maxBytes: maxBytes}
}

// Load validates data and returns a Handle with page count and metadata.
// All failures are *LoadError.
func (l *Loader) Load(name string, data []byte) (*Handle, error) {
	h, err := l.load(name, data)
	if err != nil {
		metrics.IncDocumentLoaded("rejected")
		return nil, err
	}
	metrics.IncDocumentLoaded("success")
	return h, nil
}

func (l *Loader) load(name string, data []byte) (*Handle, error) {
	if len(data) == 0 {
		return nil, &LoadError{Reason: "empty input"}
	}
	if l.maxBytes > 0 && int64(len(data)) > l.maxBytes {
		return nil, &LoadError{Reason: fmt.Sprintf("file exceeds %d MB limit", l.maxBytes/(1<<20))}
	}

	mtype := mimetype.Detect(data)
	if !mtype.Is("application/pdf") {
		return nil, &LoadError{Reason: fmt.Sprintf("not a PDF (detected %s)", mtype.String())}
	}

	probed, err := l.probe(data)
	if err != nil {
		return nil, &LoadError{Reason: "corrupt or unreadable PDF", Err: err}
	}

	doc, err := l.opener.OpenBytes(data)
	if err != nil {
		return nil, &LoadError{Reason: "renderer rejected document", Err: err}
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages < 1 {
		return nil, &LoadError{Reason: "document has no pages"}
	}
	if probed != pages {
		log.Warn().Int("pdfcpu_pages", probed).Int("fitz_pages", pages).Str("name", name).
			Msg("page count probes disagree; renderer count is authoritative")
	}

	title := strings.TrimSpace(doc.Metadata()["title"])

	h := &Handle{
		ID:        uuid.NewString(),
		Name:      displayName(name),
		Size:      int64(len(data)),
		PageCount: pages,
		Title:     title,
		Data:      data,
	}
	log.Info().Str("doc_id", h.ID).Str("name", h.Name).Int("pages", h.PageCount).
		Int64("size", h.Size).Msg("document loaded")
	return h, nil
}

// displayName reduces an upload filename or fetched ref to a bare name.
func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "document.pdf"
	}
	// strip URL query/fragment before taking the base
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return name
}
