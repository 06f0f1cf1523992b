package service

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgebridge/gateway/internal/logger"
	"github.com/edgebridge/gateway/internal/model"
)

func downloadOutcome(t *testing.T, paths <-chan string, codes <-chan model.ErrorCode) (string, model.ErrorCode) {
	t.Helper()
	select {
	case path := <-paths:
		return path, ""
	case code := <-codes:
		return "", code
	case <-time.After(5 * time.Second):
		t.Fatal("download did not finish")
		return "", ""
	}
}

func startDownload(d *HTTPFileDownloader, url, dir string) (<-chan string, <-chan model.ErrorCode) {
	paths := make(chan string, 1)
	codes := make(chan model.ErrorCode, 1)
	d.Download(url, dir,
		func(path string) { paths <- path },
		func(code model.ErrorCode) { codes <- code })
	return paths, codes
}

func TestHTTPDownloaderFetchesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "downloads")
	d := NewHTTPFileDownloader(logger.Null())
	paths, codes := startDownload(d, srv.URL+"/fw.bin", dir)

	path, code := downloadOutcome(t, paths, codes)
	require.Empty(t, code)
	require.Equal(t, filepath.Join(dir, "fw.bin"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "image-bytes", string(data))
}

func TestHTTPDownloaderDefaultFileName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewHTTPFileDownloader(logger.Null())
	paths, codes := startDownload(d, srv.URL, dir)

	path, code := downloadOutcome(t, paths, codes)
	require.Empty(t, code)
	require.Equal(t, filepath.Join(dir, "firmware.bin"), path)
}

func TestHTTPDownloaderReportsServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewHTTPFileDownloader(logger.Null())
	paths, codes := startDownload(d, srv.URL+"/missing.bin", t.TempDir())

	path, code := downloadOutcome(t, paths, codes)
	require.Empty(t, path)
	require.Equal(t, model.ErrorUnspecified, code)
}

func TestHTTPDownloaderAbort(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(blocked)
		<-r.Context().Done()
	}))
	defer srv.Close()

	d := NewHTTPFileDownloader(logger.Null())
	paths, codes := startDownload(d, srv.URL+"/fw.bin", t.TempDir())

	<-blocked
	d.Abort()

	path, code := downloadOutcome(t, paths, codes)
	require.Empty(t, path)
	require.Equal(t, model.ErrorUnspecified, code)
}
