package splithttp

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const fallbackFileName = "download"

// FileNameResolver derives a local file name from a probe response.
type FileNameResolver func(resp *http.Response) string

var unsafeNameChars = regexp.MustCompile(`[\x00-\x1f/\\:*?"<>|]+`)

// ResolveFileName prefers the Content-Disposition filename (RFC 2231 encoded
// values are decoded by mime.ParseMediaType), then the last path segment of
// the final request URL.
func ResolveFileName(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := params["filename"]; fn != "" {
				return SanitizeFileName(fn)
			}
		}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		return nameFromURL(resp.Request.URL)
	}
	return fallbackFileName
}

func nameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return SanitizeFileName(name)
}

func SanitizeFileName(name string) string {
	name = strings.TrimSpace(unsafeNameChars.ReplaceAllString(name, "_"))
	switch name {
	case "", ".", "..", "_":
		return fallbackFileName
	}
	return name
}
