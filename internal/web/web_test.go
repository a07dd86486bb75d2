package web

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/local/pageforge/internal/config"
	"github.com/local/pageforge/internal/imagerender"
	"github.com/local/pageforge/internal/insight"
	"github.com/local/pageforge/internal/orchestrator"
	"github.com/local/pageforge/internal/pdf"
	"github.com/local/pageforge/internal/session"
	"github.com/local/pageforge/internal/statuscheck"
)

type fakeLoader struct {
	pages   int
	text    string
	loadErr error
}

func (f *fakeLoader) Load(name string, data []byte) (*pdf.Handle, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &pdf.Handle{
		ID:        uuid.NewString(),
		Name:      name,
		Size:      int64(len(data)),
		PageCount: f.pages,
		Data:      data,
	}, nil
}

func (f *fakeLoader) FirstPageText(h *pdf.Handle) string { return f.text }

type fakeFetcher struct {
	data []byte
	name string
	err  error
}

func (f *fakeFetcher) Resolve(ctx context.Context, ref string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.name, nil
}

type fakeConverter struct {
	failPages map[int]bool
}

func (f *fakeConverter) ConvertAll(ctx context.Context, h pdf.Handle, settings imagerender.Settings, sink orchestrator.Sink) orchestrator.Summary {
	sum := orchestrator.Summary{Total: h.PageCount}
	for p := 1; p <= h.PageCount; p++ {
		if f.failPages[p] {
			sink.PageFailed(p, errors.New("render failed"))
			sum.Failed++
		} else {
			sink.PublishImage(imagerender.PageImage{
				ID:         fmt.Sprintf("img-%d", p),
				PageNumber: p,
				Data:       []byte(fmt.Sprintf("img-%d", p)),
				MIME:       settings.Format.MIME(),
				Width:      100,
				Height:     140,
			})
			sum.Succeeded++
		}
		sink.Progress(p * 100 / h.PageCount)
	}
	sink.Done(sum)
	return sum
}

type fakeInsight struct {
	res insight.Result
}

func (f *fakeInsight) Analyze(ctx context.Context, text string) insight.Result { return f.res }

type fakeHealth struct{}

func (fakeHealth) Summary(ctx context.Context) statuscheck.Summary {
	return statuscheck.Summary{
		OpenAI:    statuscheck.Status{OK: true, Message: "Available"},
		Anthropic: statuscheck.Status{OK: false, Message: "API key missing"},
		Redis:     statuscheck.Status{OK: true, Message: "Connected"},
	}
}

type fixture struct {
	srv     *httptest.Server
	client  *http.Client
	loader  *fakeLoader
	fetcher *fakeFetcher
	conv    *fakeConverter
	ins     *fakeInsight
}

func newFixture(t *testing.T, mutate func(*Server)) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	defaults := imagerender.Settings{Format: imagerender.FormatPNG, Scale: 2.0, Quality: 0.92}
	mgr := session.NewManager(ctx, config.SessionConfig{TTL: time.Hour, CleanupInterval: time.Hour}, defaults, 8.0, nil)

	loader := &fakeLoader{pages: 3, text: "Quarterly results for the board."}
	fetcher := &fakeFetcher{}
	conv := &fakeConverter{}
	ins := &fakeInsight{res: insight.Result{
		Summary:           "A quarterly report.",
		Keywords:          []string{"finance", "q3"},
		SuggestedFileName: "q3_report",
	}}

	s := &Server{
		deps: Dependencies{
			Sessions:  mgr,
			Loader:    loader,
			Fetcher:   fetcher,
			Converter: conv,
			Insight:   ins,
			Health:    fakeHealth{},
		},
		tpl:            testTemplates(t),
		maxUploadBytes: 100 << 20,
	}
	if mutate != nil {
		mutate(s)
	}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		srv:     srv,
		client:  &http.Client{Jar: jar},
		loader:  loader,
		fetcher: fetcher,
		conv:    conv,
		ins:     ins,
	}
}

func testTemplates(t *testing.T) *template.Template {
	t.Helper()
	tpl := template.New("dashboard.html")
	template.Must(tpl.Parse(`dashboard state={{.Snap.State}} images={{len .Images}}`))
	template.Must(tpl.New("login.html").Parse(`login error={{.Error}}`))
	return tpl
}

func (fx *fixture) upload(t *testing.T, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, fx.srv.URL+"/api/load", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := fx.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (fx *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := fx.client.Post(fx.srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (fx *fixture) post(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := fx.client.Post(fx.srv.URL+path, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (fx *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := fx.client.Get(fx.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (fx *fixture) snapshot(t *testing.T) session.Snapshot {
	t.Helper()
	resp := fx.get(t, "/api/progress")
	defer resp.Body.Close()
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	return snap
}

func (fx *fixture) waitState(t *testing.T, want session.RunState) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var snap session.Snapshot
	for time.Now().Before(deadline) {
		snap = fx.snapshot(t)
		if snap.State == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state %q not reached, last state %q", want, snap.State)
	return session.Snapshot{}
}

func TestUploadAndAnalyze(t *testing.T) {
	fx := newFixture(t, nil)

	resp := fx.upload(t, "Q3 Report.pdf", []byte("%PDF-fake"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.DocName != "Q3 Report.pdf" || snap.PageCount != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.State != session.StateAnalyzing && snap.State != session.StateIdle {
		t.Fatalf("state after load = %q", snap.State)
	}

	u, _ := url.Parse(fx.srv.URL)
	var found bool
	for _, c := range fx.client.Jar.Cookies(u) {
		if c.Name == sessionCookie && c.Value == snap.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("session cookie not issued")
	}

	idle := fx.waitState(t, session.StateIdle)
	if idle.Insight == nil {
		t.Fatal("insight missing after analysis")
	}
	if idle.Insight.Summary != "A quarterly report." || idle.Insight.SuggestedFileName != "q3_report" {
		t.Fatalf("insight = %+v", idle.Insight)
	}
}

func TestUploadRejected(t *testing.T) {
	fx := newFixture(t, nil)
	fx.loader.loadErr = &pdf.LoadError{Reason: `not a pdf (detected "text/plain")`}

	resp := fx.upload(t, "notes.txt", []byte("plain text"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("load failed")) {
		t.Fatalf("body = %q", body)
	}

	snap := fx.snapshot(t)
	if snap.State != session.StateIdle || snap.LoadError == "" {
		t.Fatalf("snapshot after rejected load = %+v", snap)
	}
}

func TestUploadMissingFile(t *testing.T) {
	fx := newFixture(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "no file here")
	_ = mw.Close()
	req, _ := http.NewRequest(http.MethodPost, fx.srv.URL+"/api/load", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := fx.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLoadByReference(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fetcher.data = []byte("%PDF-remote")
	fx.fetcher.name = "remote.pdf"

	resp := fx.postJSON(t, "/api/load_ref", map[string]string{"ref": "https://example.com/remote.pdf"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.DocName != "remote.pdf" {
		t.Fatalf("doc name = %q", snap.DocName)
	}
}

func TestLoadByReferenceErrors(t *testing.T) {
	fx := newFixture(t, nil)

	resp := fx.postJSON(t, "/api/load_ref", map[string]string{"ref": "  "})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty ref status = %d", resp.StatusCode)
	}

	fx.fetcher.err = errors.New("connection refused")
	resp = fx.postJSON(t, "/api/load_ref", map[string]string{"ref": "https://example.com/x.pdf"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("fetch failure status = %d", resp.StatusCode)
	}
}

func TestSettingsUpdate(t *testing.T) {
	fx := newFixture(t, nil)

	resp := fx.postJSON(t, "/api/settings", map[string]any{"format": "jpeg", "scale": 3.0, "quality": 0.5})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got imagerender.Settings
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := imagerender.Settings{Format: imagerender.FormatJPEG, Scale: 3.0, Quality: 0.5}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

func TestSettingsPartialAndClamped(t *testing.T) {
	fx := newFixture(t, nil)

	resp := fx.postJSON(t, "/api/settings", map[string]any{"scale": 99.0})
	defer resp.Body.Close()
	var got imagerender.Settings
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Format != imagerender.FormatPNG {
		t.Fatalf("format changed unexpectedly: %q", got.Format)
	}
	if got.Scale != 8.0 {
		t.Fatalf("scale not clamped: %v", got.Scale)
	}
}

func TestSettingsInvalidFormat(t *testing.T) {
	fx := newFixture(t, nil)
	resp := fx.postJSON(t, "/api/settings", map[string]string{"format": "webp"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestConvertFlow(t *testing.T) {
	fx := newFixture(t, nil)

	fx.upload(t, "Q3 Report.pdf", []byte("%PDF-fake")).Body.Close()
	fx.waitState(t, session.StateIdle)

	resp := fx.post(t, "/api/convert")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("convert status = %d", resp.StatusCode)
	}

	done := fx.waitState(t, session.StateDone)
	if done.Images != 3 || done.Progress != 100 {
		t.Fatalf("done snapshot = %+v", done)
	}

	page := fx.get(t, "/api/page/2")
	defer page.Body.Close()
	if page.StatusCode != http.StatusOK {
		t.Fatalf("page status = %d", page.StatusCode)
	}
	if ct := page.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(page.Body)
	if string(body) != "img-2" {
		t.Fatalf("page body = %q", body)
	}

	missing := fx.get(t, "/api/page/9")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing page status = %d", missing.StatusCode)
	}

	garbled := fx.get(t, "/api/page/abc")
	garbled.Body.Close()
	if garbled.StatusCode != http.StatusNotFound {
		t.Fatalf("garbled page status = %d", garbled.StatusCode)
	}
}

func TestDownloadSinglePage(t *testing.T) {
	fx := newFixture(t, nil)
	fx.upload(t, "Q3 Report.pdf", []byte("%PDF-fake")).Body.Close()
	fx.waitState(t, session.StateIdle)
	fx.post(t, "/api/convert").Body.Close()
	fx.waitState(t, session.StateDone)

	resp := fx.get(t, "/api/download/page/1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	want := `attachment; filename="q3_report_page_1.png"`
	if cd := resp.Header.Get("Content-Disposition"); cd != want {
		t.Fatalf("disposition = %q, want %q", cd, want)
	}
}

func TestDownloadArchive(t *testing.T) {
	fx := newFixture(t, nil)
	fx.upload(t, "Q3 Report.pdf", []byte("%PDF-fake")).Body.Close()
	fx.waitState(t, session.StateIdle)
	fx.post(t, "/api/convert").Body.Close()
	fx.waitState(t, session.StateDone)

	resp := fx.get(t, "/api/download/archive")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="q3_report.zip"` {
		t.Fatalf("disposition = %q", cd)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	want := []string{"q3_report_page_1.png", "q3_report_page_2.png", "q3_report_page_3.png"}
	if len(names) != len(want) {
		t.Fatalf("entries = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("entries = %v, want %v", names, want)
		}
	}
}

func TestDegradedInsightUsesDocumentName(t *testing.T) {
	fx := newFixture(t, nil)
	fx.ins.res = insight.DefaultResult()

	fx.upload(t, "Board Minutes.pdf", []byte("%PDF-fake")).Body.Close()
	fx.waitState(t, session.StateIdle)
	fx.post(t, "/api/convert").Body.Close()
	fx.waitState(t, session.StateDone)

	resp := fx.get(t, "/api/download/archive")
	defer resp.Body.Close()
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="board_minutes.zip"` {
		t.Fatalf("disposition = %q", cd)
	}
}

func TestConvertPartialFailure(t *testing.T) {
	fx := newFixture(t, nil)
	fx.conv.failPages = map[int]bool{2: true}

	fx.upload(t, "doc.pdf", []byte("%PDF-fake")).Body.Close()
	fx.waitState(t, session.StateIdle)
	fx.post(t, "/api/convert").Body.Close()

	done := fx.waitState(t, session.StateDone)
	if done.Images != 2 {
		t.Fatalf("images = %d", done.Images)
	}
	if len(done.FailedPages) != 1 || done.FailedPages[0] != 2 {
		t.Fatalf("failed pages = %v", done.FailedPages)
	}

	missing := fx.get(t, "/api/page/2")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("failed page status = %d", missing.StatusCode)
	}
}

func TestConvertWithoutDocument(t *testing.T) {
	fx := newFixture(t, nil)
	resp := fx.post(t, "/api/convert")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDownloadArchiveWithoutImages(t *testing.T) {
	fx := newFixture(t, nil)
	fx.upload(t, "doc.pdf", []byte("%PDF-fake")).Body.Close()

	resp := fx.get(t, "/api/download/archive")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestResetClearsEverything(t *testing.T) {
	fx := newFixture(t, nil)
	fx.upload(t, "doc.pdf", []byte("%PDF-fake")).Body.Close()
	fx.waitState(t, session.StateIdle)
	fx.post(t, "/api/convert").Body.Close()
	fx.waitState(t, session.StateDone)

	resp := fx.post(t, "/api/reset")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != session.StateIdle || snap.Images != 0 || snap.DocName != "" {
		t.Fatalf("snapshot after reset = %+v", snap)
	}

	page := fx.get(t, "/api/page/1")
	page.Body.Close()
	if page.StatusCode != http.StatusNotFound {
		t.Fatalf("page after reset status = %d", page.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	fx := newFixture(t, nil)
	resp := fx.get(t, "/api/status")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var sum statuscheck.Summary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatal(err)
	}
	if !sum.OpenAI.OK || sum.Anthropic.Message != "API key missing" || !sum.Redis.OK {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestHealth(t *testing.T) {
	fx := newFixture(t, nil)
	resp := fx.get(t, "/health")
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	fx := newFixture(t, nil)
	for _, path := range []string{"/api/load", "/api/load_ref", "/api/settings", "/api/convert", "/api/reset"} {
		resp := fx.get(t, path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestDashboardOpenWithoutCredentials(t *testing.T) {
	fx := newFixture(t, nil)
	resp := fx.get(t, "/web/dashboard")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("dashboard state=idle")) {
		t.Fatalf("body = %q", body)
	}
}

func TestRootRedirectsToDashboard(t *testing.T) {
	fx := newFixture(t, nil)
	client := noRedirectClient()
	resp, err := client.Get(fx.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/web/dashboard" {
		t.Fatalf("status = %d location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestAuthGate(t *testing.T) {
	fx := newFixture(t, func(s *Server) {
		s.username = "admin"
		s.password = "secret"
	})
	client := noRedirectClient()

	resp, err := client.Get(fx.srv.URL + "/web/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/web/login" {
		t.Fatalf("unauthenticated: status = %d location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	resp, err = client.PostForm(fx.srv.URL+"/web/login", form)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "/web/login?error=invalid+credentials" {
		t.Fatalf("bad credentials location = %q", loc)
	}

	form.Set("password", "secret")
	resp, err = client.PostForm(fx.srv.URL+"/web/login", form)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "/web/dashboard" {
		t.Fatalf("login location = %q", loc)
	}
	var authCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "auth" {
			authCookie = c
		}
	}
	if authCookie == nil || authCookie.Value != "1" {
		t.Fatalf("auth cookie = %+v", authCookie)
	}

	req, _ := http.NewRequest(http.MethodGet, fx.srv.URL+"/web/dashboard", nil)
	req.AddCookie(authCookie)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated dashboard status = %d", resp.StatusCode)
	}
}
