// Package session holds the per-session conversion state: the loaded
// document, settings, accumulated images, insight result and run progress.
// All mutation flows through the Session API so concurrent readers see a
// coherent snapshot and writes from stale runs or stale documents are
// dropped at the boundary.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/imagerender"
	"github.com/local/pageforge/internal/insight"
	"github.com/local/pageforge/internal/orchestrator"
	"github.com/local/pageforge/internal/pdf"
)

type RunState string

const (
	StateIdle       RunState = "idle"
	StateLoading    RunState = "loading"
	StateAnalyzing  RunState = "analyzing"
	StateConverting RunState = "converting"
	StateDone       RunState = "done"
)

// Session is the single synchronization point for one user's state. The
// current run is identified by runID; run-scoped writes carrying any other
// ID are dropped. Insight writes are guarded by the document ID the same way.
type Session struct {
	ID string

	mu          sync.RWMutex
	state       RunState
	handle      *pdf.Handle
	settings    imagerender.Settings
	maxScale    float64
	images      []imagerender.PageImage
	failedPages []int
	progress    int
	insight     *insight.Result
	loadError   string

	runID     string
	cancelRun context.CancelFunc
	root      context.Context
	lastSeen  time.Time

	onChange func(Snapshot)
}

func newSession(id string, root context.Context, defaults imagerender.Settings, maxScale float64, onChange func(Snapshot)) *Session {
	return &Session{
		ID:       id,
		state:    StateIdle,
		settings: defaults,
		maxScale: maxScale,
		root:     root,
		lastSeen: time.Now(),
		onChange: onChange,
	}
}

// Snapshot is a coherent copy of the observable session state.
type Snapshot struct {
	ID          string               `json:"session_id"`
	State       RunState             `json:"state"`
	Progress    int                  `json:"progress"`
	DocID       string               `json:"doc_id,omitempty"`
	DocName     string               `json:"doc_name,omitempty"`
	DocSize     int64                `json:"doc_size,omitempty"`
	PageCount   int                  `json:"page_count,omitempty"`
	DocTitle    string               `json:"doc_title,omitempty"`
	Settings    imagerender.Settings `json:"settings"`
	Images      int                  `json:"images"`
	FailedPages []int                `json:"failed_pages,omitempty"`
	Insight     *insight.Result      `json:"insight,omitempty"`
	LoadError   string               `json:"load_error,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// BeginLoad discards the previous document and everything derived from it
// and enters the loading state. Any in-flight run is cancelled.
func (s *Session) BeginLoad() {
	s.mu.Lock()
	s.cancelRunLocked()
	s.state = StateLoading
	s.handle = nil
	s.images = nil
	s.failedPages = nil
	s.progress = 0
	s.insight = nil
	s.loadError = ""
	s.lastSeen = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// CompleteLoad installs the loaded document and enters the analyzing state;
// the caller starts insight generation right after.
func (s *Session) CompleteLoad(h *pdf.Handle) {
	s.mu.Lock()
	s.handle = h
	s.state = StateAnalyzing
	s.lastSeen = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// FailLoad records a load failure. The session returns to idle with no
// document; the error text is surfaced to the user.
func (s *Session) FailLoad(err error) {
	s.mu.Lock()
	s.handle = nil
	s.state = StateIdle
	s.loadError = err.Error()
	s.lastSeen = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// SetSettings applies new conversion settings, clamping scale to the
// configured maximum and quality to [0,1]. Already-produced images are not
// affected. The clamped settings are returned.
func (s *Session) SetSettings(in imagerender.Settings) imagerender.Settings {
	s.mu.Lock()
	if in.Scale <= 0 {
		in.Scale = s.settings.Scale
	}
	if s.maxScale > 0 && in.Scale > s.maxScale {
		in.Scale = s.maxScale
	}
	if in.Quality < 0 {
		in.Quality = 0
	}
	if in.Quality > 1 {
		in.Quality = 1
	}
	s.settings = in
	s.lastSeen = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
	return in
}

// Settings returns the current conversion settings.
func (s *Session) Settings() imagerender.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Run carries everything a conversion goroutine needs for one run.
type Run struct {
	Ctx      context.Context
	Handle   pdf.Handle
	Settings imagerender.Settings
	Sink     *RunSink
}

// BeginRun starts a new conversion run: the previous run is cancelled, the
// accumulated images are discarded and progress returns to 0. Returns false
// when no document is loaded.
func (s *Session) BeginRun() (Run, bool) {
	s.mu.Lock()
	if s.handle == nil {
		s.mu.Unlock()
		return Run{}, false
	}
	s.cancelRunLocked()
	ctx, cancel := context.WithCancel(s.root)
	s.cancelRun = cancel
	s.runID = uuid.NewString()
	s.images = nil
	s.failedPages = nil
	s.progress = 0
	s.state = StateConverting
	s.lastSeen = time.Now()
	run := Run{
		Ctx:      ctx,
		Handle:   *s.handle,
		Settings: s.settings,
		Sink:     &RunSink{s: s, runID: s.runID},
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
	return run, true
}

// SetInsight stores an analysis result produced for the document docID. A
// result for any other document is dropped. Only an analyzing session
// returns to idle; a conversion in progress keeps its state.
func (s *Session) SetInsight(docID string, r insight.Result) {
	s.mu.Lock()
	if s.handle == nil || s.handle.ID != docID {
		s.mu.Unlock()
		log.Debug().Str("session_id", s.ID).Str("doc_id", docID).Msg("stale insight dropped")
		return
	}
	s.insight = &r
	if s.state == StateAnalyzing {
		s.state = StateIdle
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// Reset discards all session state and cancels any in-flight run.
func (s *Session) Reset() {
	s.mu.Lock()
	s.cancelRunLocked()
	s.state = StateIdle
	s.handle = nil
	s.images = nil
	s.failedPages = nil
	s.progress = 0
	s.insight = nil
	s.loadError = ""
	s.lastSeen = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// Snapshot returns a coherent copy of the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Handle returns the loaded document, or false when none is loaded.
func (s *Session) Handle() (pdf.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return pdf.Handle{}, false
	}
	return *s.handle, true
}

// Images returns a copy of the accumulated image list in publish order.
func (s *Session) Images() []imagerender.PageImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]imagerender.PageImage, len(s.images))
	copy(out, s.images)
	return out
}

// Image returns the image for a 1-based page number.
func (s *Session) Image(pageNumber int) (imagerender.PageImage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, img := range s.images {
		if img.PageNumber == pageNumber {
			return img, true
		}
	}
	return imagerender.PageImage{}, false
}

// Insight returns the stored analysis result, or false when none exists.
func (s *Session) Insight() (insight.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.insight == nil {
		return insight.Result{}, false
	}
	return *s.insight, true
}

// Touch marks the session as recently used for TTL accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen reports when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

func (s *Session) publishImage(runID string, img imagerender.PageImage) {
	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		log.Debug().Str("session_id", s.ID).Int("page", img.PageNumber).Msg("stale image dropped")
		return
	}
	s.images = append(s.images, img)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

func (s *Session) pageFailed(runID string, page int, err error) {
	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		log.Debug().Str("session_id", s.ID).Int("page", page).Msg("stale page failure dropped")
		return
	}
	s.failedPages = append(s.failedPages, page)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

func (s *Session) setProgress(runID string, pct int) {
	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		return
	}
	s.progress = pct
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

func (s *Session) finishRun(runID string) {
	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		log.Debug().Str("session_id", s.ID).Msg("stale run completion dropped")
		return
	}
	s.state = StateDone
	s.cancelRunLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

func (s *Session) cancelRunLocked() {
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.runID = ""
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        s.ID,
		State:     s.state,
		Progress:  s.progress,
		Settings:  s.settings,
		Images:    len(s.images),
		LoadError: s.loadError,
		UpdatedAt: time.Now(),
	}
	if s.handle != nil {
		snap.DocID = s.handle.ID
		snap.DocName = s.handle.Name
		snap.DocSize = s.handle.Size
		snap.PageCount = s.handle.PageCount
		snap.DocTitle = s.handle.Title
	}
	if len(s.failedPages) > 0 {
		snap.FailedPages = append([]int(nil), s.failedPages...)
	}
	if s.insight != nil {
		r := *s.insight
		snap.Insight = &r
	}
	return snap
}

func (s *Session) emit(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}

// RunSink publishes one run's events into its session. Everything arriving
// after the run was superseded is dropped by the session guards.
type RunSink struct {
	s     *Session
	runID string
}

func (r *RunSink) PublishImage(img imagerender.PageImage) { r.s.publishImage(r.runID, img) }

func (r *RunSink) PageFailed(page int, err error) { r.s.pageFailed(r.runID, page, err) }

func (r *RunSink) Progress(pct int) { r.s.setProgress(r.runID, pct) }

func (r *RunSink) Done(sum orchestrator.Summary) { r.s.finishRun(r.runID) }
