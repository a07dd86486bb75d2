// Package orchestrator drives conversion runs: one document instance per
// run, pages rendered in order, results streamed through a sink.
package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/imagerender"
	"github.com/local/pageforge/internal/metrics"
	"github.com/local/pageforge/internal/pdf"
)

// Sink receives run events in page order. The session's run-scoped publisher
// implements it; dropping stale writes is the sink's concern, not the
// converter's.
type Sink interface {
	PublishImage(img imagerender.PageImage)
	PageFailed(page int, err error)
	Progress(pct int)
	Done(sum Summary)
}

// Summary is the outcome of one conversion run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled bool
}

func (s Summary) result() string {
	switch {
	case s.Cancelled:
		return "cancelled"
	case s.Succeeded == 0:
		return "empty"
	case s.Failed > 0:
		return "partial"
	default:
		return "complete"
	}
}

type renderFunc func(doc pdf.Document, pageNumber int, settings imagerender.Settings) (imagerender.PageImage, error)

// Converter renders every page of a loaded document sequentially.
type Converter struct {
	opener pdf.Opener
	render renderFunc
}

func New(opener pdf.Opener) *Converter {
	return &Converter{opener: opener, render: imagerender.RenderPage}
}

// ConvertAll opens its own document instance from handle.Data and processes
// pages 1..PageCount in order, publishing each image as soon as it is
// produced. A failed page is reported and the run continues. Progress
// advances after every attempt. The sink always sees Done, including the
// degenerate run where the document no longer opens (every page failed,
// progress 100).
func (c *Converter) ConvertAll(ctx context.Context, handle pdf.Handle, settings imagerender.Settings, sink Sink) Summary {
	total := handle.PageCount
	sum := Summary{Total: total}

	doc, err := c.opener.OpenBytes(handle.Data)
	if err != nil {
		log.Error().Err(err).Str("doc_id", handle.ID).Msg("document reopen failed")
		for page := 1; page <= total; page++ {
			sink.PageFailed(page, err)
			sum.Failed++
			sink.Progress(progressPct(sum.Failed, total))
		}
		sink.Done(sum)
		metrics.IncConversionRun(sum.result())
		return sum
	}
	defer doc.Close()

	for page := 1; page <= total; page++ {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}
		img, err := c.render(doc, page, settings)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Str("doc_id", handle.ID).Msg("page render failed")
			sink.PageFailed(page, err)
			sum.Failed++
		} else {
			sink.PublishImage(img)
			sum.Succeeded++
		}
		sink.Progress(progressPct(sum.Succeeded+sum.Failed, total))
	}

	sink.Done(sum)
	metrics.IncConversionRun(sum.result())
	log.Info().Str("doc_id", handle.ID).Int("total", total).
		Int("succeeded", sum.Succeeded).Int("failed", sum.Failed).
		Bool("cancelled", sum.Cancelled).Msg("conversion run finished")
	return sum
}

func progressPct(attempted, total int) int {
	if total <= 0 {
		return 100
	}
	return int(float64(attempted) / float64(total) * 100)
}
