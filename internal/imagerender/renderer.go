package imagerender

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"image/png"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/metrics"
	"github.com/local/pageforge/internal/pdf"
)

// Format selects the output encoding for rendered pages.
type Format string

const (
	FormatPNG  Format = "png"  // lossless
	FormatJPEG Format = "jpeg" // lossy
)

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("unknown format %q (want png or jpeg)", s)
	}
}

// MIME returns the content type for the encoded bytes.
func (f Format) MIME() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Extension returns the file extension used when naming output files.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// Settings control rasterization. Scale multiplies the page's intrinsic size
// (1.0 == 72 DPI); Quality applies to the lossy format only, 1.0 being the
// best quality / largest output.
type Settings struct {
	Format  Format  `json:"format"`
	Scale   float64 `json:"scale"`
	Quality float64 `json:"quality"`
}

// DPI is the render resolution implied by Scale.
func (s Settings) DPI() float64 { return 72 * s.Scale }

// jpegQuality maps Quality in [0,1] to the encoder's 1..100 range.
func (s Settings) jpegQuality() int {
	q := int(math.Round(s.Quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return q
}

// PageImage is one successfully rendered page. Data is the single encoding
// of the page; DataURI derives the embeddable form from the same bytes, so
// preview and packaged output can never drift apart.
type PageImage struct {
	ID         string `json:"id"`
	PageNumber int    `json:"page"`
	Data       []byte `json:"-"`
	MIME       string `json:"mime"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// DataURI returns the image as a data: URI for inline embedding.
func (p PageImage) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MIME, EncodeToBase64(p.Data))
}

// RenderError marks the failure of a single page. The rest of the batch is
// unaffected; the orchestrator records the page and moves on.
type RenderError struct {
	Page int
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render page %d: %v", e.Page, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// RenderPage rasterizes one page (1-based) of an open document at the
// resolution implied by settings and encodes it once. Callers iterate pages
// in range, but an out-of-range number still comes back as a RenderError
// rather than a panic.
func RenderPage(doc pdf.Document, pageNumber int, settings Settings) (PageImage, error) {
	start := time.Now()

	if pageNumber < 1 || pageNumber > doc.NumPage() {
		metrics.ObserveRender(string(settings.Format), "error", time.Since(start))
		return PageImage{}, &RenderError{Page: pageNumber, Err: fmt.Errorf("page out of range 1..%d", doc.NumPage())}
	}

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(pageNumber-1, settings.DPI())
	if err != nil {
		metrics.ObserveRender(string(settings.Format), "error", time.Since(start))
		return PageImage{}, &RenderError{Page: pageNumber, Err: err}
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var buf bytes.Buffer
	switch settings.Format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: settings.jpegQuality()})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		metrics.ObserveRender(string(settings.Format), "error", time.Since(start))
		return PageImage{}, &RenderError{Page: pageNumber, Err: fmt.Errorf("encode %s: %w", settings.Format, err)}
	}

	out := PageImage{
		ID:         uuid.NewString(),
		PageNumber: pageNumber,
		Data:       buf.Bytes(),
		MIME:       settings.Format.MIME(),
		Width:      width,
		Height:     height,
	}

	metrics.ObserveRender(string(settings.Format), "success", time.Since(start))
	log.Debug().
		Int("page", pageNumber).
		Int("width", width).
		Int("height", height).
		Int("bytes", len(out.Data)).
		Str("format", string(settings.Format)).
		Float64("dpi", settings.DPI()).
		Msg("rendered page")

	return out, nil
}

// EncodeToBase64 converts binary data to base64 string
func EncodeToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeFromBase64 converts base64 string back to binary data
func DecodeFromBase64(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
