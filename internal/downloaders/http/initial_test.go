package splithttp

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tanq16/splitfetch/internal/utils"
)

func TestValidateJob(t *testing.T) {
	tests := []struct {
		name    string
		job     utils.Job
		wantErr bool
	}{
		{"valid", utils.Job{URL: "https://example.com/a.bin"}, false},
		{"ftp", utils.Job{URL: "ftp://example.com/a.bin"}, true},
		{"no host", utils.Job{URL: "http:///a.bin"}, true},
		{"bad url", utils.Job{URL: "http://exa mple.com/%zz"}, true},
		{"negative connections", utils.Job{URL: "http://example.com", Connections: -1}, true},
		{"negative segment", utils.Job{URL: "http://example.com", SegmentSize: -5}, true},
		{"negative rate", utils.Job{URL: "http://example.com", RateLimit: -1}, true},
	}
	d := &HTTPDownloader{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.ValidateJob(&tt.job)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateJob() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPDownloaderJob(t *testing.T) {
	data := payload(3*testSegment + 99)
	srv := rangeServer(t, data, nil)
	dir := t.TempDir()

	var mu sync.Mutex
	var lastDownloaded, lastTotal int64
	job := &utils.Job{
		URL:         srv.URL + "/file.bin",
		OutputDir:   dir,
		Connections: 4,
		SegmentSize: testSegment,
		FailFast:    true,
		Metadata:    map[string]any{},
		ProgressFunc: func(downloaded, total int64, _ float64) {
			mu.Lock()
			lastDownloaded, lastTotal = downloaded, total
			mu.Unlock()
		},
	}
	d := &HTTPDownloader{}
	if err := d.ValidateJob(job); err != nil {
		t.Fatal(err)
	}
	if err := d.BuildJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if job.OutputPath != filepath.Join(dir, "file.bin") {
		t.Errorf("output path %s", job.OutputPath)
	}
	if size, _ := job.Metadata["fileSize"].(int64); size != int64(len(data)) {
		t.Errorf("fileSize metadata %d", size)
	}
	if err := d.Download(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(readFile(t, job.OutputPath), data) {
		t.Error("output differs from source")
	}
	mu.Lock()
	defer mu.Unlock()
	if lastDownloaded != int64(len(data)) || lastTotal != int64(len(data)) {
		t.Errorf("last progress %d/%d", lastDownloaded, lastTotal)
	}
	if job.Metadata["state"] != "finished" {
		t.Errorf("state metadata %v", job.Metadata["state"])
	}
}

func TestDownloadRequiresBuild(t *testing.T) {
	d := &HTTPDownloader{}
	if err := d.Download(context.Background(), &utils.Job{URL: "http://example.com"}); err == nil {
		t.Fatal("expected error for unbuilt job")
	}
}
