package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/model"
)

// URLFileDownloader fetches a firmware image from a URL into a directory.
// Exactly one of the callbacks fires per Download; Abort cancels the
// transfer in flight.
type URLFileDownloader interface {
	Download(fileURL, dir string, onSuccess func(path string), onFail func(code model.ErrorCode))
	Abort()
}

const urlDownloadTimeout = 10 * time.Minute

// HTTPFileDownloader downloads firmware images over HTTP(S).
type HTTPFileDownloader struct {
	lg     *logrus.Entry
	client *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHTTPFileDownloader builds the downloader.
func NewHTTPFileDownloader(lg *logrus.Entry) *HTTPFileDownloader {
	return &HTTPFileDownloader{lg: lg, client: &http.Client{}}
}

// Download fetches fileURL into dir on a worker goroutine.
func (d *HTTPFileDownloader) Download(fileURL, dir string, onSuccess func(string), onFail func(model.ErrorCode)) {
	ctx, cancel := context.WithTimeout(context.Background(), urlDownloadTimeout)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go func() {
		defer cancel()
		target, err := d.fetch(ctx, fileURL, dir)
		if err != nil {
			d.lg.WithField("url", fileURL).WithError(err).Warn("url download failed")
			code := model.ErrorUnspecified
			if os.IsPermission(err) {
				code = model.ErrorFileSystem
			}
			onFail(code)
			return
		}
		d.lg.WithFields(logrus.Fields{"url": fileURL, "path": target}).Info("url download completed")
		onSuccess(target)
	}()
}

// Abort cancels the transfer in flight, if any.
func (d *HTTPFileDownloader) Abort() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *HTTPFileDownloader) fetch(ctx context.Context, fileURL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dir, downloadFileName(req.URL))
	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(target)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return "", err
	}
	return target, nil
}

func downloadFileName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "firmware.bin"
	}
	return name
}
