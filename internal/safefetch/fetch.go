// Package safefetch provides an HTTP fetcher that refuses to contact private,
// loopback, link-local and other reserved destinations.
//
// Every hop is validated: the initial URL before any I/O, each redirect target
// in CheckRedirect, and the concrete IP the dialer connects to, so DNS answers
// that change between validation and connection are also covered.
package safefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/jonathan/siteforge/internal/types"
)

// DefaultTimeout is the default page fetch timeout.
const DefaultTimeout = 15 * time.Second

// DefaultUserAgent is sent on every request.
const DefaultUserAgent = "Mozilla/5.0 (compatible; SiteforgeAudit/1.0; +https://siteforge.dev/bot)"

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 5 << 20

// DefaultMaxRedirects is the redirect hop limit.
const DefaultMaxRedirects = 10

// Resolver looks up the addresses of a hostname. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Options configures a Fetcher.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	MaxRedirects int
	Resolver     Resolver
	// IsBlocked decides whether an address may be contacted. Defaults to IsReserved.
	IsBlocked func(netip.Addr) bool
}

// DefaultOptions returns the production fetch settings.
func DefaultOptions() *Options {
	return &Options{
		Timeout:      DefaultTimeout,
		UserAgent:    DefaultUserAgent,
		MaxBodyBytes: DefaultMaxBodyBytes,
		MaxRedirects: DefaultMaxRedirects,
		Resolver:     net.DefaultResolver,
		IsBlocked:    IsReserved,
	}
}

// Fetcher performs validated GET requests.
type Fetcher struct {
	client *http.Client
	opts   Options
}

// New creates a Fetcher. Zero-valued option fields take their defaults.
func New(opts *Options) *Fetcher {
	o := *DefaultOptions()
	if opts != nil {
		if opts.Timeout > 0 {
			o.Timeout = opts.Timeout
		}
		if opts.UserAgent != "" {
			o.UserAgent = opts.UserAgent
		}
		if opts.MaxBodyBytes > 0 {
			o.MaxBodyBytes = opts.MaxBodyBytes
		}
		if opts.MaxRedirects > 0 {
			o.MaxRedirects = opts.MaxRedirects
		}
		if opts.Resolver != nil {
			o.Resolver = opts.Resolver
		}
		if opts.IsBlocked != nil {
			o.IsBlocked = opts.IsBlocked
		}
	}

	f := &Fetcher{opts: o}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 nil, // a proxy would bypass the dial-time address check
		DialContext:           f.dialContext(dialer),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	f.client = &http.Client{
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// Timeout returns the fetcher's default request timeout.
func (f *Fetcher) Timeout() time.Duration {
	return f.opts.Timeout
}

// Validate checks that rawURL is an http(s) URL whose host resolves only to
// allowed addresses. It performs DNS resolution but no HTTP I/O.
//
// A failed lookup returns the normalized URL together with an *Error, so
// callers can tell a transient resolution failure from a *BlockedError.
func (f *Fetcher) Validate(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, &BlockedError{URL: rawURL, Reason: ReasonInvalidURL}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, &BlockedError{URL: rawURL, Host: u.Hostname(), Reason: ReasonScheme}
	}
	u.Scheme = scheme

	host, err := normalizeHost(u.Hostname())
	if err != nil {
		return nil, &BlockedError{URL: rawURL, Host: u.Hostname(), Reason: ReasonInvalidURL}
	}

	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	if _, err := f.resolve(ctx, host); err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			blocked.URL = rawURL
			return nil, blocked
		}
		return u, &Error{URL: rawURL, Message: "host resolution failed", Cause: err}
	}
	return u, nil
}

// Fetch retrieves rawURL with the default timeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*types.CrawlResult, error) {
	return f.FetchWithTimeout(ctx, rawURL, f.opts.Timeout)
}

// FetchWithTimeout retrieves rawURL, bounding the whole exchange by timeout.
// A non-2xx status is returned in the result, not as an error.
func (f *Fetcher) FetchWithTimeout(ctx context.Context, rawURL string, timeout time.Duration) (*types.CrawlResult, error) {
	u, err := f.Validate(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = f.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			if blocked.URL == "" {
				blocked.URL = rawURL
			}
			return nil, blocked
		}
		return nil, &Error{URL: rawURL, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "failed to read response body", Cause: err}
	}

	return &types.CrawlResult{
		HTML:       string(body),
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
	}, nil
}

// IsBlocked reports whether err is a blocked-target rejection.
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= f.opts.MaxRedirects {
		return &BlockedError{URL: req.URL.String(), Host: req.URL.Hostname(), Reason: ReasonTooManyHops}
	}
	if _, err := f.Validate(req.Context(), req.URL.String()); err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			if blocked.Reason == ReasonReservedAddr || blocked.Reason == ReasonNoAddresses {
				blocked.Reason = ReasonRedirectCheck
			}
			return blocked
		}
		return err
	}
	return nil
}

func (f *Fetcher) dialContext(d *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("split dial address %q: %w", addr, err)
		}
		addrs, err := f.resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, a := range addrs {
			conn, err := d.DialContext(ctx, network, net.JoinHostPort(a.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

// resolve returns the addresses for host after checking every one of them.
func (f *Fetcher) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.WithZone("").Unmap()
		if f.opts.IsBlocked(addr) {
			return nil, &BlockedError{Host: host, Addr: addr.String(), Reason: ReasonReservedAddr}
		}
		return []netip.Addr{addr}, nil
	}

	addrs, err := f.opts.Resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, &BlockedError{Host: host, Reason: ReasonNoAddresses}
	}

	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		a = a.WithZone("").Unmap()
		if f.opts.IsBlocked(a) {
			return nil, &BlockedError{Host: host, Addr: a.String(), Reason: ReasonReservedAddr}
		}
		out = append(out, a)
	}
	return out, nil
}

func normalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return host, nil
	}
	return idna.Lookup.ToASCII(host)
}
