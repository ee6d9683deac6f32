package splithttp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/utils"
)

const UnknownSize int64 = -1

// Descriptor is what the probe learned about a remote resource. It is not
// modified after Probe returns; WithLocalPath returns a copy.
type Descriptor struct {
	URL            string
	FileName       string
	Size           int64 // UnknownSize when the length must come from streaming
	Chunked        bool
	RangeSupported bool
	Validator      string // entity tag, forwarded as If-Range
	LocalPath      string
}

func (d *Descriptor) KnownSize() bool {
	return d.Size >= 0
}

// Segmentable reports whether the resource can be fetched as independent ranges.
func (d *Descriptor) Segmentable() bool {
	return d.RangeSupported && d.KnownSize() && !d.Chunked
}

func (d Descriptor) WithLocalPath(p string) *Descriptor {
	d.LocalPath = p
	d.FileName = filepath.Base(p)
	return &d
}

type Prober struct {
	Client    utils.HTTPDoer
	Resolver  FileNameResolver // ResolveFileName when nil
	OutputDir string
	// OutputName overrides the resolved file name. Absolute paths are used as is.
	OutputName string
}

func (p *Prober) Probe(ctx context.Context, rawURL string) (*Descriptor, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConnectionError{Op: "probe", URL: rawURL, Err: fmt.Errorf("invalid URL: %w", err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &ConnectionError{Op: "probe", URL: rawURL, Err: fmt.Errorf("unsupported scheme: %q", parsed.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, &ConnectionError{Op: "probe", URL: rawURL, Err: err}
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: "probe", URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ConnectionError{Op: "probe", URL: rawURL, StatusCode: resp.StatusCode}
	}

	d := &Descriptor{
		URL:  rawURL,
		Size: UnknownSize,
	}
	d.Chunked = isChunked(resp)
	if !d.Chunked {
		d.Size = parseContentLength(resp.Header.Get("Content-Length"))
	}
	d.RangeSupported = strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes")
	d.Validator = resp.Header.Get("ETag")

	resolve := p.Resolver
	if resolve == nil {
		resolve = ResolveFileName
	}
	d.FileName = resolve(resp)
	d.LocalPath = filepath.Join(p.OutputDir, d.FileName)
	if p.OutputName != "" {
		if filepath.IsAbs(p.OutputName) {
			d.LocalPath = p.OutputName
		} else {
			d.LocalPath = filepath.Join(p.OutputDir, p.OutputName)
		}
		d.FileName = filepath.Base(d.LocalPath)
	}

	log.Debug().Str("op", "http/probe").Str("url", rawURL).Int64("size", d.Size).
		Bool("chunked", d.Chunked).Bool("ranges", d.RangeSupported).Str("etag", d.Validator).
		Str("path", d.LocalPath).Msg("Probe complete")
	if !d.Segmentable() {
		log.Info().Str("op", "http/probe").Str("url", rawURL).Msg("Size or range support unavailable, using single stream")
	}
	return d, nil
}

func isChunked(resp *http.Response) bool {
	for _, te := range resp.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(resp.Header.Get("Transfer-Encoding")), "chunked")
}

func parseContentLength(v string) int64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return UnknownSize
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return UnknownSize
	}
	return n
}
