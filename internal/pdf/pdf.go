package pdf

import (
	"errors"
	"fmt"
	"image"
)

// Document abstracts an open PDF document. Page indices are 0-based,
// following the rendering library convention; callers working with 1-based
// page numbers convert at the call site.
type Document interface {
	NumPage() int
	Text(pageIndex int) (string, error)
	ImageDPI(pageIndex int, dpi float64) (image.Image, error)
	Metadata() map[string]string
	Close() error
}

// Opener abstracts opening a PDF byte buffer into a Document. Each open
// returns an independent instance with its own drawing surface, so one
// document per conversion run or analysis is the intended usage.
type Opener interface {
	OpenBytes(data []byte) (Document, error)
}

// Handle is the session's reference to a loaded document. The original bytes
// are retained so every run can open its own Document instance. The ID acts
// as the cancellation token for writes produced against this document.
type Handle struct {
	ID        string
	Name      string
	Size      int64
	PageCount int
	Title     string
	Data      []byte
}

// LoadError marks a document that could not be loaded. It is fatal to the
// load attempt and is the only error class surfaced to the user directly.
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("load failed: %s", e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is (or wraps) a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
