// Package httpclient provides the HTTP client used for caller-supplied locators.
// Locators come from registrants, so requests to loopback, private and
// special-use addresses are refused unless explicitly allowed.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/proofchain/errors"
)

// ErrBlocked is returned when a URL or resolved address is refused.
var ErrBlocked = errors.New("destination blocked")

// Options configures a SaferClient. Zero values take defaults.
type Options struct {
	Timeout      time.Duration // whole-request timeout; 0 = none, callers bound with context
	MaxRedirects int           // default 5
	AllowPrivate bool          // permit loopback and private destinations (local gateways, tests)
}

// SaferClient wraps http.Client with destination checks on every request and redirect.
type SaferClient struct {
	client       *http.Client
	allowPrivate bool
	maxRedirects int
}

// NewSaferClient creates a client from opts.
func NewSaferClient(opts Options) *SaferClient {
	c := &SaferClient{
		allowPrivate: opts.AllowPrivate,
		maxRedirects: opts.MaxRedirects,
	}
	if c.maxRedirects <= 0 {
		c.maxRedirects = 5
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DialContext:           dialer.DialContext,
	}
	if !c.allowPrivate {
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "resolve %q", host)
			}
			for _, ip := range addrs {
				if IsBlockedAddr(ip) {
					return nil, errors.Wrapf(ErrBlocked, "%s resolves to %s", host, ip)
				}
			}
			// Dial the checked address so a second lookup cannot rebind
			return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].String(), port))
		}
	}

	c.client = &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= c.maxRedirects {
				return errors.Newf("stopped after %d redirects", c.maxRedirects)
			}
			if err := c.check(req.URL); err != nil {
				return errors.Wrap(err, "redirect blocked")
			}
			return nil
		},
	}
	return c
}

// Check validates a URL string without sending a request.
func (c *SaferClient) Check(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do executes req after validating its destination.
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

func (c *SaferClient) check(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Wrapf(ErrBlocked, "scheme %q not allowed", u.Scheme)
	}
	// http://gateway.example@127.0.0.1/ style confusion
	if u.User != nil {
		return errors.Wrap(ErrBlocked, "URL carries userinfo")
	}
	host := u.Hostname()
	if host == "" {
		return errors.Wrap(ErrBlocked, "URL missing hostname")
	}
	if c.allowPrivate {
		return nil
	}
	if isLocalhost(host) {
		return errors.Wrap(ErrBlocked, "localhost access blocked")
	}
	if ip, err := netip.ParseAddr(host); err == nil && IsBlockedAddr(ip) {
		return errors.Wrapf(ErrBlocked, "address %s blocked", host)
	}
	return nil
}

var specialPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("fec0::/10"),
}

// IsBlockedAddr reports loopback, private, link-local, multicast, unspecified
// and reserved addresses. IPv4-mapped IPv6 is judged by its IPv4 form.
func IsBlockedAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	for _, p := range specialPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func isLocalhost(hostname string) bool {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}
