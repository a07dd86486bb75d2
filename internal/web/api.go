package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/archive"
	"github.com/local/pageforge/internal/imagerender"
	"github.com/local/pageforge/internal/pdf"
	"github.com/local/pageforge/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleLoad accepts a multipart upload with a single "file" field.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess := s.session(w, r)
	// The request cap leaves room for multipart framing; the loader enforces
	// the document size limit itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	name := hdr.Filename
	if name == "" {
		name = "upload.pdf"
	}
	s.load(w, sess, name, data)
}

// handleLoadRef loads a document from a file://, http(s):// or s3:// reference.
func (s *Server) handleLoadRef(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req struct {
		Ref string `json:"ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Ref) == "" {
		http.Error(w, "missing ref", http.StatusBadRequest)
		return
	}
	sess := s.session(w, r)
	data, name, err := s.deps.Fetcher.Resolve(r.Context(), req.Ref)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Str("ref", req.Ref).Msg("reference fetch failed")
		http.Error(w, fmt.Sprintf("fetch failed: %v", err), http.StatusBadGateway)
		return
	}
	s.load(w, sess, name, data)
}

// load validates the bytes, installs the handle and kicks off the insight
// analysis. The conversion itself waits for an explicit /api/convert.
func (s *Server) load(w http.ResponseWriter, sess *session.Session, name string, data []byte) {
	sess.BeginLoad()
	h, err := s.deps.Loader.Load(name, data)
	if err != nil {
		sess.FailLoad(err)
		log.Warn().Err(err).Str("session_id", sess.ID).Str("doc", name).Msg("document load rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess.CompleteLoad(h)
	log.Info().Str("session_id", sess.ID).Str("doc_id", h.ID).Str("doc", h.Name).
		Int("pages", h.PageCount).Int64("size", h.Size).Msg("document loaded")
	go s.analyze(sess, h)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// analyze runs off the request goroutine; SetInsight drops the result if the
// document changed in the meantime.
func (s *Server) analyze(sess *session.Session, h *pdf.Handle) {
	text := s.deps.Loader.FirstPageText(h)
	res := s.deps.Insight.Analyze(context.Background(), text)
	sess.SetInsight(h.ID, res)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req struct {
		Format  string  `json:"format"`
		Scale   float64 `json:"scale"`
		Quality float64 `json:"quality"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	sess := s.session(w, r)
	next := sess.Settings()
	if req.Format != "" {
		f, err := imagerender.ParseFormat(req.Format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		next.Format = f
	}
	if req.Scale > 0 {
		next.Scale = req.Scale
	}
	if req.Quality > 0 {
		next.Quality = req.Quality
	}
	applied := sess.SetSettings(next)
	writeJSON(w, http.StatusOK, applied)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess := s.session(w, r)
	run, ok := sess.BeginRun()
	if !ok {
		http.Error(w, "no document loaded", http.StatusConflict)
		return
	}
	log.Info().Str("session_id", sess.ID).Str("doc_id", run.Handle.ID).
		Int("pages", run.Handle.PageCount).Str("format", string(run.Settings.Format)).
		Float64("scale", run.Settings.Scale).Msg("conversion started")
	go s.deps.Converter.ConvertAll(run.Ctx, run.Handle, run.Settings, run.Sink)
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	img, ok := s.pageImage(sess, r.URL.Path, "/api/page/")
	if !ok {
		http.Error(w, "page not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", img.MIME)
	_, _ = w.Write(img.Data)
}

func (s *Server) handleDownloadPage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	img, ok := s.pageImage(sess, r.URL.Path, "/api/download/page/")
	if !ok {
		http.Error(w, "page not available", http.StatusNotFound)
		return
	}
	entry, data := archive.PackageSingle(img, s.exportBaseName(sess), formatOf(img))
	w.Header().Set("Content-Type", img.MIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry))
	_, _ = w.Write(data)
}

func (s *Server) handleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	images := sess.Images()
	if len(images) == 0 {
		http.Error(w, "no converted pages to download", http.StatusConflict)
		return
	}
	base := s.exportBaseName(sess)
	data, err := archive.PackageAll(images, base, formatOf(images[0]))
	if err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("archive packaging failed")
		http.Error(w, "packaging failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+".zip"))
	_, _ = w.Write(data)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess := s.session(w, r)
	sess.Reset()
	log.Info().Str("session_id", sess.ID).Msg("session reset")
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.Summary(r.Context()))
}

// pageImage parses the trailing page number and looks the image up.
func (s *Server) pageImage(sess *session.Session, path, prefix string) (imagerender.PageImage, bool) {
	page, err := strconv.Atoi(strings.TrimPrefix(path, prefix))
	if err != nil || page < 1 {
		return imagerender.PageImage{}, false
	}
	return sess.Image(page)
}

// exportBaseName prefers the insight suggestion unless the analysis was
// degraded, falling back to the document's own name.
func (s *Server) exportBaseName(sess *session.Session) string {
	var suggested string
	if res, ok := sess.Insight(); ok && !res.Degraded {
		suggested = res.SuggestedFileName
	}
	var docName string
	if h, ok := sess.Handle(); ok {
		docName = h.Name
	}
	return archive.BaseName(suggested, docName)
}

func formatOf(img imagerender.PageImage) imagerender.Format {
	if img.MIME == "image/jpeg" {
		return imagerender.FormatJPEG
	}
	return imagerender.FormatPNG
}
