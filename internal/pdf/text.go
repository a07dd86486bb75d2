package pdf

import (
	"bytes"
	"fmt"
	"strings"

	ledongthuc "github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// FirstPageText extracts cleaned plain text from page 1 of the handle's
// document, for the insight pipeline. The rendering library is the primary
// extractor; when it yields nothing, a second parser is tried. Every failure
// degrades to an empty string; text extraction never blocks anything.
func (l *Loader) FirstPageText(h *Handle) string {
	text := l.fitzFirstPage(h)
	if strings.TrimSpace(text) != "" {
		return text
	}
	if alt := fallbackFirstPage(h.Data); strings.TrimSpace(alt) != "" {
		log.Debug().Str("doc_id", h.ID).Int("chars", len(alt)).Msg("first-page text from fallback extractor")
		return alt
	}
	return ""
}

func (l *Loader) fitzFirstPage(h *Handle) string {
	doc, err := l.opener.OpenBytes(h.Data)
	if err != nil {
		log.Warn().Err(err).Str("doc_id", h.ID).Msg("text extraction open failed")
		return ""
	}
	defer doc.Close()

	raw, err := doc.Text(0)
	if err != nil {
		log.Warn().Err(err).Str("doc_id", h.ID).Msg("first-page text extraction failed")
		return ""
	}
	cleaned := CleanPageText(raw, 1)
	log.Debug().Str("doc_id", h.ID).Int("raw_chars", len(raw)).Int("cleaned_chars", len(cleaned)).
		Msg("extracted first-page text")
	return cleaned
}

// fallbackFirstPage parses page 1 with a second, pure-Go PDF parser. Some
// generators emit text streams MuPDF maps to empty glyphs; this catches a
// share of those.
func fallbackFirstPage(data []byte) (text string) {
	defer func() {
		// the fallback parser panics on some malformed files
		if r := recover(); r != nil {
			text = ""
		}
	}()

	r, err := ledongthuc.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	if r.NumPage() < 1 {
		return ""
	}
	page := r.Page(1)
	if page.V.IsNull() {
		return ""
	}
	raw, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return CleanPageText(raw, 1)
}

// CleanPageText removes headers, footers, bare page numbers and noise lines,
// then rejoins sentences broken across lines.
func CleanPageText(text string, pageNum int) string {
	lines := strings.Split(text, "\n")
	var kept []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isPageNumber(trimmed, pageNum) {
			continue
		}
		if isHeaderFooter(trimmed) {
			continue
		}
		if isNoise(trimmed) {
			continue
		}
		kept = append(kept, line)
	}

	result := strings.Join(kept, "\n")
	result = fixBrokenLines(result)
	return strings.TrimSpace(result)
}

func isPageNumber(line string, pageNum int) bool {
	if line == fmt.Sprintf("%d", pageNum) {
		return true
	}
	patterns := []string{
		fmt.Sprintf("Page %d", pageNum),
		fmt.Sprintf("- %d -", pageNum),
		fmt.Sprintf("[%d]", pageNum),
	}
	for _, p := range patterns {
		if strings.EqualFold(line, p) {
			return true
		}
	}
	return false
}

func isHeaderFooter(line string) bool {
	if len(line) < 3 {
		return true
	}
	// short all-caps banner lines
	if len(line) < 50 && strings.ToUpper(line) == line {
		if words := strings.Fields(line); len(words) <= 2 {
			return true
		}
	}
	footerPatterns := []string{
		"CONFIDENTIAL",
		"COPYRIGHT",
		"ALL RIGHTS RESERVED",
		"PROPRIETARY",
	}
	upper := strings.ToUpper(line)
	for _, p := range footerPatterns {
		if strings.Contains(upper, p) && len(line) < 100 {
			return true
		}
	}
	return false
}

func isNoise(line string) bool {
	for _, r := range line {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func fixBrokenLines(text string) string {
	lines := strings.Split(text, "\n")
	var fixed []string

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if i < len(lines)-1 {
			trimmed := strings.TrimSpace(line)
			next := strings.TrimSpace(lines[i+1])
			if trimmed != "" && next != "" {
				last := trimmed[len(trimmed)-1]
				sentenceEnd := last == '.' || last == '!' || last == '?' || last == ':' || last == ';'
				if !sentenceEnd {
					first := next[0]
					if first >= 'a' && first <= 'z' && !strings.HasSuffix(trimmed, "-") {
						fixed = append(fixed, trimmed+" "+next)
						i++ // consumed the next line
						continue
					}
				}
			}
		}
		fixed = append(fixed, line)
	}
	return strings.Join(fixed, "\n")
}

// Truncate bounds text to max runes, cutting at a word boundary when one is
// near the limit.
func Truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	cut := string(runes[:max])
	if i := strings.LastIndexAny(cut, " \n\t"); i > max/2 {
		cut = cut[:i]
	}
	return cut
}
