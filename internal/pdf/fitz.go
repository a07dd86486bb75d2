package pdf

import (
	"image"

	fitz "github.com/gen2brain/go-fitz"
)

// fitzOpener implements Opener using github.com/gen2brain/go-fitz.
type fitzOpener struct{}

// NewFitzOpener returns the default, MuPDF-backed document opener.
func NewFitzOpener() Opener { return fitzOpener{} }

func (fitzOpener) OpenBytes(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return &fitzDoc{doc: doc}, nil
}

// --- Adapter ---

type fitzDoc struct {
	doc *fitz.Document
}

func (d *fitzDoc) NumPage() int { return d.doc.NumPage() }

func (d *fitzDoc) Text(pageIndex int) (string, error) { return d.doc.Text(pageIndex) }

func (d *fitzDoc) ImageDPI(pageIndex int, dpi float64) (image.Image, error) {
	return d.doc.ImageDPI(pageIndex, dpi)
}

func (d *fitzDoc) Metadata() map[string]string { return d.doc.Metadata() }

func (d *fitzDoc) Close() error { return d.doc.Close() }
