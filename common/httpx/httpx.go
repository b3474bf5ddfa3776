package httpx

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
)

type Client struct {
	hc        *http.Client
	opt       Options
	fail      int32 // consecutive failures
	openUntil int64 // unix nanos for circuit open deadline
}

type Options struct {
	Timeout            time.Duration
	Retry              int
	BackoffMin         time.Duration
	BackoffMax         time.Duration
	HostAllowlist      []string
	MaxConsecutiveFail int
	CircuitOpen        time.Duration
}

func NewFromConfig(cfg *config.HTTPClientConfig) *Client {
	var c config.HTTPClientConfig
	if cfg != nil {
		c = *cfg
	}
	opt := Options{
		Timeout:            config.Millis(c.TimeoutMs, 1200*time.Millisecond),
		Retry:              c.Retry,
		BackoffMin:         config.Millis(c.BackoffMinMs, 100*time.Millisecond),
		BackoffMax:         config.Millis(c.BackoffMaxMs, 800*time.Millisecond),
		HostAllowlist:      c.HostAllowlist,
		MaxConsecutiveFail: c.MaxConsecutiveFailures,
		CircuitOpen:        time.Duration(c.CircuitOpenSeconds) * time.Second,
	}
	if opt.MaxConsecutiveFail <= 0 {
		opt.MaxConsecutiveFail = 5
	}
	if opt.CircuitOpen <= 0 {
		opt.CircuitOpen = 5 * time.Second
	}
	return New(opt)
}

func New(opt Options) *Client {
	if opt.Retry < 0 {
		opt.Retry = 0
	}
	transport := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: opt.Timeout}).DialContext,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:    100,
		IdleConnTimeout: 30 * time.Second,
	}
	return &Client{
		hc:  &http.Client{Timeout: opt.Timeout, Transport: transport},
		opt: opt,
	}
}

func (c *Client) allowed(u string) bool {
	if len(c.opt.HostAllowlist) == 0 {
		return true
	}
	pu, err := url.Parse(u)
	if err != nil {
		return false
	}
	host := pu.Hostname()
	for _, h := range c.opt.HostAllowlist {
		if matchHost(h, host) {
			return true
		}
	}
	return false
}

func matchHost(pattern, host string) bool {
	if pattern == "*" {
		return true
	}
	if strings.EqualFold(pattern, host) {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suf := strings.TrimPrefix(pattern, "*.")
		return strings.HasSuffix(host, "."+suf) || host == suf
	}
	return false
}

var ErrCircuitOpen = errors.New("circuit open")
var ErrHostNotAllowed = errors.New("host not allowed")

// StatusError is returned when every attempt ended in a 5xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream http status %d: %s", e.StatusCode, e.Body)
}

// Do sends req, retrying transport errors and 5xx responses with jittered
// backoff. Responses below 500 are returned to the caller as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !c.allowed(req.URL.String()) {
		logger.Warnf("httpx: blocked outbound host: %s", req.URL.Host)
		return nil, ErrHostNotAllowed
	}
	if atomic.LoadInt64(&c.openUntil) > time.Now().UnixNano() {
		return nil, ErrCircuitOpen
	}

	jitter := c.opt.BackoffMax - c.opt.BackoffMin
	if jitter <= 0 {
		jitter = time.Millisecond
	}
	var resp *http.Response
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			if attempt > 1 && req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return retry.Unrecoverable(err)
				}
				req.Body = body
			}
			r, err := c.hc.Do(req)
			if err != nil {
				return err
			}
			if r.StatusCode >= 500 {
				b, _ := io.ReadAll(io.LimitReader(r.Body, 512))
				_ = r.Body.Close()
				return &StatusError{StatusCode: r.StatusCode, Body: string(b)}
			}
			resp = r
			return nil
		},
		retry.Attempts(uint(c.opt.Retry+1)),
		retry.Context(req.Context()),
		retry.Delay(c.opt.BackoffMin),
		retry.MaxDelay(c.opt.BackoffMax),
		retry.MaxJitter(jitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("httpx: request failed (try %d/%d) to %s: %v", n+1, c.opt.Retry+1, req.URL.Host, err)
		}),
	)
	if err == nil {
		atomic.StoreInt32(&c.fail, 0)
		return resp, nil
	}
	// open circuit on consecutive failures
	if atomic.AddInt32(&c.fail, 1) >= int32(c.opt.MaxConsecutiveFail) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.opt.CircuitOpen).UnixNano())
		atomic.StoreInt32(&c.fail, 0)
		logger.Warnf("httpx: circuit opened for %v", c.opt.CircuitOpen)
	}
	return nil, err
}
