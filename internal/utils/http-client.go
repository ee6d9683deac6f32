package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"
)

// ErrIdleTimeout is returned when a request waits longer than the idle
// timeout for its response headers or for the next body read.
var ErrIdleTimeout = errors.New("no data received within idle timeout")

type HTTPClientConfig struct {
	Timeout        time.Duration // idle limit for headers and between body reads
	KATimeout      time.Duration
	UserAgent      string
	Headers        map[string]string
	HighThreadMode bool // advanced socket options for high concurrency
}

// HTTPDoer is the transport seam used by the prober and the fetch workers.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	client *http.Client
	config HTTPClientConfig
}

func NewClient(cfg HTTPClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	transport := &http.Transport{
		IdleConnTimeout:       cfg.KATimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true, // ranges must address raw bytes
		MaxConnsPerHost:       0,
		ResponseHeaderTimeout: cfg.Timeout,
	}
	if cfg.HighThreadMode {
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control: func(network, address string, c syscall.RawConn) error {
				return c.Control(func(fd uintptr) {
					setSocketOptions(fd)
				})
			},
		}).DialContext
	}
	return &Client{
		client: &http.Client{
			Transport: transport,
		},
		config: cfg,
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	ctx, cancel := context.WithCancel(req.Context())
	body := &idleBody{cancel: cancel, idle: c.config.Timeout}
	body.timer = time.AfterFunc(body.idle, body.expire)
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		body.stop()
		if body.expired.Load() {
			return nil, fmt.Errorf("%w (%s) waiting for response: %w", ErrIdleTimeout, body.idle, err)
		}
		return nil, err
	}
	body.timer.Stop()
	body.ReadCloser = resp.Body
	resp.Body = body
	return resp, nil
}

// idleBody cancels its request when a single read blocks for longer than
// idle. Time spent by the consumer between reads is not counted, and the
// overall deadline stays with the caller's context, so a slow but steady body
// is never cut off.
type idleBody struct {
	io.ReadCloser
	cancel  context.CancelFunc
	idle    time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func (b *idleBody) expire() {
	b.expired.Store(true)
	b.cancel()
}

func (b *idleBody) stop() {
	b.timer.Stop()
	b.cancel()
}

func (b *idleBody) Read(p []byte) (int, error) {
	if !b.expired.Load() {
		b.timer.Reset(b.idle)
	}
	n, err := b.ReadCloser.Read(p)
	b.timer.Stop()
	if err != nil && !errors.Is(err, io.EOF) && b.expired.Load() {
		return n, fmt.Errorf("%w (%s): %w", ErrIdleTimeout, b.idle, err)
	}
	return n, err
}

func (b *idleBody) Close() error {
	err := b.ReadCloser.Close()
	b.stop()
	return err
}
