package utils

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// dripServer writes pieces bytes every gap and flushes each piece.
func dripServer(t *testing.T, pieces int, size int, gap time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		piece := bytes.Repeat([]byte{'x'}, size)
		for range pieces {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(gap):
			}
			w.Write(piece)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSlowSteadyBodyOutlastsIdleTimeout(t *testing.T) {
	srv := dripServer(t, 10, 20000, 100*time.Millisecond)
	c := NewClient(HTTPClientConfig{Timeout: 500 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		t.Fatalf("read failed after %s: %v", time.Since(start), err)
	}
	if n != 200000 {
		t.Errorf("read %d bytes, want 200000", n)
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Error("transfer finished before the idle timeout, test proves nothing")
	}
}

func TestClientStalledBodyHitsIdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	c := NewClient(HTTPClientConfig{Timeout: 200 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	start := time.Now()
	_, err = io.Copy(io.Discard, resp.Body)
	if !errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("expected ErrIdleTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("idle timeout took too long")
	}
}

func TestClientHeaderIdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	c := NewClient(HTTPClientConfig{Timeout: 150 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := c.Do(req); err == nil {
		t.Fatal("expected an error while waiting for headers")
	}
}

func TestClientSetsUserAgentAndHeaders(t *testing.T) {
	var gotUA, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotHeader = r.Header.Get("X-Token")
	}))
	t.Cleanup(srv.Close)
	c := NewClient(HTTPClientConfig{Headers: map[string]string{"X-Token": "abc"}})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if gotUA != ToolUserAgent || gotHeader != "abc" {
		t.Errorf("User-Agent=%q X-Token=%q", gotUA, gotHeader)
	}
}
