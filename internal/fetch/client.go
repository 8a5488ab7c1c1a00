// Package fetch is the only way the gateway talks to other hosts. Every
// request is checked against a host allowlist, and every connection against
// private and reserved address ranges at dial time, so a hostname that
// resolves (or re-resolves) to an internal address is refused.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"goodlistseller-gate/internal/observability"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 10 << 20
	maxRedirects        = 5
	defaultUserAgent    = "goodlistseller-gate/1.0"
)

var (
	ErrBlockedURL       = errors.New("fetch: url not permitted")
	ErrHostNotAllowed   = errors.New("fetch: host not in allowlist")
	ErrPrivateAddress   = errors.New("fetch: address resolves to private or reserved range")
	ErrBodyTooLarge     = errors.New("fetch: response body too large")
	ErrTooManyRedirects = errors.New("fetch: too many redirects")
)

// Options configures a Client
type Options struct {
	// AllowedHosts lists hostnames that may be fetched. "*.example.com"
	// matches any subdomain of example.com.
	AllowedHosts []string
	// AllowPrivateNetworks disables the address range check (development only)
	AllowPrivateNetworks bool

	// BearerToken is sent as Authorization to AuthHosts only
	BearerToken string
	AuthHosts   []string

	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

// Response is a fully read upstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is an SSRF-guarded HTTP client
type Client struct {
	client       *http.Client
	allowed      []string
	authHosts    []string
	bearerToken  string
	maxBodyBytes int64
	userAgent    string
}

// New creates a Client from opts
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	c := &Client{
		allowed:      normalizeHosts(opts.AllowedHosts),
		authHosts:    normalizeHosts(opts.AuthHosts),
		bearerToken:  opts.BearerToken,
		maxBodyBytes: opts.MaxBodyBytes,
		userAgent:    opts.UserAgent,
	}

	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !opts.AllowPrivateNetworks {
		dialer.Control = denyPrivateAddress
	}

	c.client = &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:               nil,
			DialContext:         dialer.DialContext,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			return c.checkURL(req.URL)
		},
	}

	return c
}

// ValidateURL parses rawURL and checks scheme and host against the allowlist.
// Address ranges are checked later, when connecting.
func (c *Client) ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	if err := c.checkURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrBlockedURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrBlockedURL)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlockedURL)
	}
	if !hostMatches(c.allowed, host) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return nil
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, nil)
}

// Do performs a request, attaching the bearer token when the host is an auth
// host, and reads at most MaxBodyBytes of the response.
func (c *Client) Do(ctx context.Context, method, rawURL string, body io.Reader) (*Response, error) {
	u, err := c.ValidateURL(rawURL)
	if err != nil {
		observability.OutboundFetchTotal.WithLabelValues("blocked").Inc()
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		observability.OutboundFetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.bearerToken != "" && hostMatches(c.authHosts, strings.ToLower(u.Hostname())) {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isBlocked(err) {
			observability.OutboundFetchTotal.WithLabelValues("blocked").Inc()
		} else {
			observability.OutboundFetchTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		observability.OutboundFetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read body from %s: %w", u.Host, err)
	}
	if int64(len(data)) > c.maxBodyBytes {
		observability.OutboundFetchTotal.WithLabelValues("error").Inc()
		return nil, ErrBodyTooLarge
	}

	observability.OutboundFetchTotal.WithLabelValues("ok").Inc()
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func isBlocked(err error) bool {
	return errors.Is(err, ErrPrivateAddress) ||
		errors.Is(err, ErrHostNotAllowed) ||
		errors.Is(err, ErrBlockedURL)
}

// denyPrivateAddress runs after DNS resolution, right before connect.
func denyPrivateAddress(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || IsPrivateIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}

// IsPrivateIP reports whether ip is in a private, loopback, link-local,
// unspecified, CGNAT, or benchmarking range.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 0 {
			return true
		}
		// 100.64.0.0/10 carrier-grade NAT
		if ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127 {
			return true
		}
		// 192.0.0.0/24 IETF protocol assignments
		if ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 0 {
			return true
		}
		// 198.18.0.0/15 benchmarking
		if ip4[0] == 198 && (ip4[1] == 18 || ip4[1] == 19) {
			return true
		}
		if ip4[0] >= 240 {
			return true
		}
	}

	return false
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func hostMatches(patterns []string, host string) bool {
	for _, p := range patterns {
		if strings.HasPrefix(p, "*.") {
			if strings.HasSuffix(host, p[1:]) {
				return true
			}
			continue
		}
		if p == host {
			return true
		}
	}
	return false
}
