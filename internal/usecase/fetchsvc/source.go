package fetchsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

// Source открывает поток байтов по URL своей схемы. size = -1, если длина неизвестна.
type Source interface {
	Open(ctx context.Context, u *url.URL) (body io.ReadCloser, size int64, err error)
}

// HTTPConfig — параметры HTTP-клиента для скачивания.
type HTTPConfig struct {
	Timeout   time.Duration
	KATimeout time.Duration
	ProxyURL  string
	UserAgent string
	Headers   map[string]string
}

// HTTPSource качает http/https URL.
type HTTPSource struct {
	client *http.Client
	cfg    HTTPConfig
}

// NewHTTPSource строит клиент с таймаутами на соединение и заголовки ответа.
// Общего таймаута на тело нет, но Timeout ограничивает паузу между порциями данных.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 90 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		IdleConnTimeout:       cfg.KATimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		DisableCompression:    true,
		Proxy:                 http.ProxyFromEnvironment,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &HTTPSource{
		client: &http.Client{Transport: transport},
		cfg:    cfg,
	}
}

func (h *HTTPSource) Open(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	rctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, 0, err
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		cancel()
		return nil, 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, 0, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	return newIdleReader(resp.Body, h.cfg.Timeout, cancel), resp.ContentLength, nil
}

// ErrIdleTimeout — источник замолчал дольше допустимого.
var ErrIdleTimeout = errors.New("no data received")

// idleReader обрывает запрос, если между порциями данных проходит больше timeout.
type idleReader struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	expired atomic.Bool
}

func newIdleReader(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	r := &idleReader{body: body, timeout: timeout, cancel: cancel}
	r.timer = time.AfterFunc(timeout, func() {
		r.expired.Store(true)
		cancel()
	})
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if r.expired.Load() && !errors.Is(err, io.EOF) {
		// ошибка транспорта тут — следствие нашей же отмены, подменяем её
		return n, fmt.Errorf("%w for %s", ErrIdleTimeout, r.timeout)
	}
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) Close() error {
	r.timer.Stop()
	err := r.body.Close()
	r.cancel()
	return err
}
