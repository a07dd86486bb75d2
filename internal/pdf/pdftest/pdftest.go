// Package pdftest provides in-memory Document and Opener fakes so the
// conversion pipeline can be tested without the CGO rendering library.
package pdftest

import (
	"fmt"
	"image"
	"math"

	"github.com/local/pageforge/internal/pdf"
)

// Doc is a fake pdf.Document. Pages are uniform PageW×PageH points; per-page
// text and error behavior is configured through the maps.
type Doc struct {
	PageCount int
	PageW     int // intrinsic width in points (72 DPI reference)
	PageH     int
	PageText  map[int]string // by 0-based page index
	TextErr   map[int]error
	RenderErr map[int]error
	Meta      map[string]string

	Rendered []int // 0-based page indices in attempt order
	Closed   bool
}

func (d *Doc) NumPage() int { return d.PageCount }

func (d *Doc) Text(pageIndex int) (string, error) {
	if err := d.TextErr[pageIndex]; err != nil {
		return "", err
	}
	return d.PageText[pageIndex], nil
}

func (d *Doc) ImageDPI(pageIndex int, dpi float64) (image.Image, error) {
	d.Rendered = append(d.Rendered, pageIndex)
	if pageIndex < 0 || pageIndex >= d.PageCount {
		return nil, fmt.Errorf("page index %d out of range", pageIndex)
	}
	if err := d.RenderErr[pageIndex]; err != nil {
		return nil, err
	}
	w := int(math.Round(float64(d.PageW) * dpi / 72.0))
	h := int(math.Round(float64(d.PageH) * dpi / 72.0))
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func (d *Doc) Metadata() map[string]string {
	if d.Meta == nil {
		return map[string]string{}
	}
	return d.Meta
}

func (d *Doc) Close() error {
	d.Closed = true
	return nil
}

// Opener is a fake pdf.Opener. Make is called once per OpenBytes so each
// open gets a fresh document, mirroring the real opener.
type Opener struct {
	Err   error
	Make  func() *Doc
	Opens int
	Last  *Doc
}

func (o *Opener) OpenBytes(data []byte) (pdf.Document, error) {
	o.Opens++
	if o.Err != nil {
		return nil, o.Err
	}
	if o.Make == nil {
		o.Make = func() *Doc { return &Doc{PageCount: 1, PageW: 612, PageH: 792} }
	}
	d := o.Make()
	o.Last = d
	return d, nil
}
