package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/refgrab/internal/fetch"
	"github.com/nao1215/refgrab/internal/model"
)

func newTestSession(t *testing.T) *fetch.Session {
	t.Helper()

	sess, err := fetch.NewSessionWithHTTPClient(&http.Client{},
		fetch.WithRetry(2, 10*time.Millisecond),
		fetch.WithTimeouts(5*time.Second, 5*time.Second),
	)
	if err != nil {
		t.Fatalf("NewSessionWithHTTPClient() error = %v", err)
	}
	return sess
}

func TestDownloaderSave(t *testing.T) {
	t.Parallel()

	t.Run("streams the body to a path mirroring the URL", func(t *testing.T) {
		t.Parallel()

		body := strings.Repeat("x", 20000)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/zip")
			fmt.Fprint(w, body)
		}))
		defer srv.Close()

		dir := t.TempDir()
		d := NewDownloader(dir)

		record := d.Save(context.Background(), newTestSession(t), model.ResourceRef{
			URL:  srv.URL + "/codes/tables/loinc.zip",
			Kind: model.KindFile,
		}, srv.URL)

		if record.Status != model.StatusDownloaded {
			t.Fatalf("Save() status = %v, reason = %q, want downloaded", record.Status, record.Reason)
		}
		wantPath := filepath.Join(dir, "codes", "tables", "loinc.zip")
		if record.Path != wantPath {
			t.Errorf("Save() path = %q, want %q", record.Path, wantPath)
		}
		if record.Bytes != int64(len(body)) {
			t.Errorf("Save() bytes = %d, want %d", record.Bytes, len(body))
		}
		if record.SHA256 == "" {
			t.Error("Save() returned an empty digest")
		}

		got, err := os.ReadFile(wantPath)
		if err != nil {
			t.Fatalf("reading downloaded file: %v", err)
		}
		if string(got) != body {
			t.Errorf("downloaded file has %d bytes, want %d", len(got), len(body))
		}
	})

	t.Run("terms-revealed files are written flat", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
			fmt.Fprint(w, "payload")
		}))
		defer srv.Close()

		dir := t.TempDir()
		d := NewDownloader(dir)

		record := d.Save(context.Background(), newTestSession(t), model.ResourceRef{
			URL:      srv.URL + "/wp-content/uploads/2024/terms.csv",
			Kind:     model.KindFile,
			ViaTerms: true,
		}, srv.URL)

		if record.Status != model.StatusDownloaded {
			t.Fatalf("Save() status = %v, want downloaded", record.Status)
		}
		if record.Path != filepath.Join(dir, "terms.csv") {
			t.Errorf("Save() path = %q, want flat %q", record.Path, filepath.Join(dir, "terms.csv"))
		}
	})

	t.Run("second request for the same URL makes no network call", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.Header().Set("Content-Type", "application/zip")
			fmt.Fprint(w, "payload")
		}))
		defer srv.Close()

		dir := t.TempDir()
		d := NewDownloader(dir)
		sess := newTestSession(t)

		ref := model.ResourceRef{URL: srv.URL + "/data.zip", Kind: model.KindFile}
		if got := d.Save(context.Background(), sess, ref, srv.URL); got.Status != model.StatusDownloaded {
			t.Fatalf("first Save() status = %v, want downloaded", got.Status)
		}

		record := d.Save(context.Background(), sess, ref, srv.URL)
		if record.Status != model.StatusSkipped {
			t.Errorf("second Save() status = %v, want skipped", record.Status)
		}
		if got := hits.Load(); got != 1 {
			t.Errorf("server saw %d requests, want 1", got)
		}
	})

	t.Run("fragment-only URL variants are one download", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.Header().Set("Content-Type", "application/zip")
			fmt.Fprint(w, "payload")
		}))
		defer srv.Close()

		d := NewDownloader(t.TempDir())
		sess := newTestSession(t)

		d.Save(context.Background(), sess, model.ResourceRef{URL: srv.URL + "/data.zip", Kind: model.KindFile}, srv.URL)
		record := d.Save(context.Background(), sess, model.ResourceRef{URL: srv.URL + "/data.zip#section", Kind: model.KindFile}, srv.URL)

		if record.Status != model.StatusSkipped {
			t.Errorf("Save() status = %v, want skipped", record.Status)
		}
		if got := hits.Load(); got != 1 {
			t.Errorf("server saw %d requests, want 1", got)
		}
	})

	t.Run("small HTML body is skipped as an error page", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><body>Please log in</body></html>")
		}))
		defer srv.Close()

		dir := t.TempDir()
		d := NewDownloader(dir)

		record := d.Save(context.Background(), newTestSession(t), model.ResourceRef{
			URL:  srv.URL + "/download.zip",
			Kind: model.KindFile,
		}, srv.URL)

		if record.Status != model.StatusSkipped {
			t.Fatalf("Save() status = %v, want skipped", record.Status)
		}
		if !strings.Contains(record.Reason, "error page") {
			t.Errorf("Save() reason = %q, want an error-page mention", record.Reason)
		}
		if _, err := os.Stat(filepath.Join(dir, "download.zip")); !os.IsNotExist(err) {
			t.Error("skipped download left a file on disk")
		}
	})

	t.Run("large HTML body is kept", func(t *testing.T) {
		t.Parallel()

		body := strings.Repeat("a", 512)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, body)
		}))
		defer srv.Close()

		dir := t.TempDir()
		d := NewDownloader(dir, WithHTMLSkipThreshold(100))

		record := d.Save(context.Background(), newTestSession(t), model.ResourceRef{
			URL:  srv.URL + "/export.xml",
			Kind: model.KindFile,
		}, srv.URL)

		if record.Status != model.StatusDownloaded {
			t.Fatalf("Save() status = %v, reason = %q, want downloaded", record.Status, record.Reason)
		}
		if record.Bytes != int64(len(body)) {
			t.Errorf("Save() bytes = %d, want %d", record.Bytes, len(body))
		}
		got, err := os.ReadFile(record.Path)
		if err != nil {
			t.Fatalf("reading downloaded file: %v", err)
		}
		if string(got) != body {
			t.Error("downloaded file does not match the response body")
		}
	})

	t.Run("existing file on disk is skipped", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
		}))
		defer srv.Close()

		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "data.zip"), []byte("old"), 0600); err != nil {
			t.Fatal(err)
		}

		d := NewDownloader(dir)
		record := d.Save(context.Background(), newTestSession(t), model.ResourceRef{
			URL:      srv.URL + "/data.zip",
			Kind:     model.KindFile,
			ViaTerms: true,
		}, srv.URL)

		if record.Status != model.StatusSkipped {
			t.Errorf("Save() status = %v, want skipped", record.Status)
		}
		if got := hits.Load(); got != 0 {
			t.Errorf("server saw %d requests, want 0", got)
		}
	})

	t.Run("unreachable server records a failure and allows retry", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		d := NewDownloader(t.TempDir())
		sess := newTestSession(t)
		ref := model.ResourceRef{URL: srv.URL + "/data.zip", Kind: model.KindFile}

		record := d.Save(context.Background(), sess, ref, srv.URL)
		if record.Status != model.StatusFailed {
			t.Fatalf("Save() status = %v, want failed", record.Status)
		}

		// A failed URL must not be locked out for the rest of the run.
		record = d.Save(context.Background(), sess, ref, srv.URL)
		if record.Status != model.StatusFailed {
			t.Errorf("second Save() status = %v, want failed (not skipped)", record.Status)
		}
	})

	t.Run("filename from the file query parameter", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/zip")
			fmt.Fprint(w, "payload")
		}))
		defer srv.Close()

		dir := t.TempDir()
		d := NewDownloader(dir)

		record := d.Save(context.Background(), newTestSession(t), model.ResourceRef{
			URL:      srv.URL + "/?file=loinc%2Ezip",
			Kind:     model.KindFile,
			ViaTerms: true,
		}, srv.URL)

		if record.Status != model.StatusDownloaded {
			t.Fatalf("Save() status = %v, want downloaded", record.Status)
		}
		if record.Path != filepath.Join(dir, "loinc.zip") {
			t.Errorf("Save() path = %q, want %q", record.Path, filepath.Join(dir, "loinc.zip"))
		}
	})
}

func TestDownloaderSeedDownloaded(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	d.SeedDownloaded([]string{srv.URL + "/data.zip"})

	record := d.Save(context.Background(), newTestSession(t), model.ResourceRef{
		URL:  srv.URL + "/data.zip",
		Kind: model.KindFile,
	}, srv.URL)

	if record.Status != model.StatusSkipped {
		t.Errorf("Save() status = %v, want skipped", record.Status)
	}
	if got := hits.Load(); got != 0 {
		t.Errorf("server saw %d requests, want 0", got)
	}
	if got := d.DownloadedCount(); got != 1 {
		t.Errorf("DownloadedCount() = %d, want 1", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "clean name untouched", input: "Loinc_2.77.zip", want: "Loinc_2.77.zip"},
		{name: "spaces replaced", input: "code tables.csv", want: "code_tables.csv"},
		{name: "query-ish characters replaced", input: "a?b=c&d.zip", want: "a_b_c_d.zip"},
		{name: "unicode replaced", input: "códigos.xlsx", want: "c_digos.xlsx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sanitizeFilename(tt.input); got != tt.want {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
