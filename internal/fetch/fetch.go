// Package fetch resolves document references into bytes. Supported schemes:
// file:// (and bare paths), http(s):// and s3://bucket/key. Remote downloads
// land in temp files that are removed after reading; temps orphaned by
// failures are swept separately.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/config"
)

type Fetcher struct {
	conf config.FetchConfig
	http *http.Client
}

func New(conf config.FetchConfig) *Fetcher {
	timeout := conf.HTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{conf: conf, http: &http.Client{Timeout: timeout}}
}

// Resolve fetches ref into memory and returns the bytes with a display name
// derived from the reference. An optional #fragment is stripped first.
func (f *Fetcher) Resolve(ctx context.Context, ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" {
		return nil, "", fmt.Errorf("empty document reference")
	}

	switch {
	case strings.HasPrefix(ref, "file://"):
		return readLocal(strings.TrimPrefix(ref, "file://"))
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		if !f.conf.AllowRemote {
			return nil, "", fmt.Errorf("remote fetch disabled")
		}
		return f.resolveHTTP(ctx, ref)
	case strings.HasPrefix(ref, "s3://"):
		if !f.conf.AllowRemote {
			return nil, "", fmt.Errorf("remote fetch disabled")
		}
		return f.resolveS3(ctx, ref)
	default:
		return readLocal(ref)
	}
}

func readLocal(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, filepath.Base(path), nil
}

func (f *Fetcher) resolveHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	tmp, err := f.downloadHTTPToTemp(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	defer os.Remove(tmp)
	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, "", err
	}
	log.Info().Str("url", rawURL).Int("bytes", len(data)).Msg("downloaded document")
	return data, nameFromURL(rawURL), nil
}

func (f *Fetcher) downloadHTTPToTemp(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	tmp, err := os.CreateTemp("", "pdfdl-*.pdf")
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (f *Fetcher) resolveS3(ctx context.Context, ref string) ([]byte, string, error) {
	bucket, key, err := splitS3(ref)
	if err != nil {
		return nil, "", err
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("load aws config: %w", err)
	}
	dl := manager.NewDownloader(s3.NewFromConfig(cfg))

	tmp, err := os.CreateTemp("", "s3pdf-*.pdf")
	if err != nil {
		return nil, "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := dl.Download(ctx, tmp, &s3.GetObjectInput{Bucket: &bucket, Key: &key}); err != nil {
		tmp.Close()
		return nil, "", fmt.Errorf("s3 download failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, "", err
	}
	log.Info().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("downloaded s3 document")
	return data, filepath.Base(key), nil
}

func splitS3(ref string) (bucket, key string, err error) {
	path := strings.TrimPrefix(ref, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return "", "", fmt.Errorf("invalid s3 ref: %s", ref)
	}
	return path[:slash], path[slash+1:], nil
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "document.pdf"
	}
	name := filepath.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return name
}

// CleanupTemps removes download temp files (pdfdl-*.pdf, s3pdf-*.pdf) older
// than maxAge. Normal operation removes temps as soon as they are read; this
// catches the ones orphaned by failed downloads or crashes.
func CleanupTemps(maxAge time.Duration) {
	dir := os.TempDir()
	now := time.Now()
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		name := info.Name()
		if !strings.HasPrefix(name, "pdfdl-") && !strings.HasPrefix(name, "s3pdf-") {
			return nil
		}
		if now.Sub(info.ModTime()) >= maxAge {
			_ = os.Remove(path)
		}
		return nil
	})
}

// SweepLoop runs CleanupTemps on an interval until ctx is done.
func SweepLoop(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			CleanupTemps(maxAge)
		}
	}
}
