package splithttp

import (
	"net/http"
	"net/url"
	"testing"
)

func TestResolveFileName(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		disposition string
		expected    string
	}{
		{"path", "https://example.com/a/b/archive.tar.gz", "", "archive.tar.gz"},
		{"escaped path", "https://example.com/my%20file.txt", "", "my file.txt"},
		{"root", "https://example.com/", "", "download"},
		{"no path", "https://example.com", "", "download"},
		{"disposition", "https://example.com/get", `attachment; filename="data.csv"`, "data.csv"},
		{"encoded disposition", "https://example.com/get", `attachment; filename*=UTF-8''na%C3%AFve.txt`, "naïve.txt"},
		{"traversal", "https://example.com/get", `attachment; filename="../../etc/passwd"`, ".._.._etc_passwd"},
		{"bad disposition", "https://example.com/fallback.bin", `attachment; filename=`, "fallback.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatal(err)
			}
			resp := &http.Response{Header: http.Header{}, Request: &http.Request{URL: u}}
			if tt.disposition != "" {
				resp.Header.Set("Content-Disposition", tt.disposition)
			}
			if got := ResolveFileName(resp); got != tt.expected {
				t.Errorf("ResolveFileName() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"ok.txt":      "ok.txt",
		"a:b*c?.txt":  "a_b_c_.txt",
		"  spaced  ":  "spaced",
		"..":          "download",
		"":            "download",
		"tab\tname":   "tab_name",
		`back\slash`:  "back_slash",
		"pipe|<>name": "pipe_name",
	}
	for in, want := range tests {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
