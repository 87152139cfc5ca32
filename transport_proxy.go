package mqttclient

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig holds proxy configuration for client connections.
type ProxyConfig struct {
	// URL is the proxy URL in format: http://host:port or socks5://host:port
	URL string `yaml:"url"`
	// Username for proxy authentication (optional)
	Username string `yaml:"username"`
	// Password for proxy authentication (optional)
	Password string `yaml:"password"`
}

// ProxyDialer tunnels connections through an HTTP CONNECT or SOCKS5 proxy.
type ProxyDialer struct {
	proxyURL *url.URL
	username string
	password string
	forward  net.Dialer
}

// NewProxyDialer creates a new proxy dialer from the given proxy URL.
// Supported schemes: http, https (HTTP CONNECT), socks5, socks5h.
func NewProxyDialer(proxyURL, username, password string) (*ProxyDialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("%w: proxy URL: %w", ErrInvalidOption, err)
	}

	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("%w: unsupported proxy scheme %q", ErrInvalidOption, u.Scheme)
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	return &ProxyDialer{
		proxyURL: u,
		username: username,
		password: password,
	}, nil
}

// Dial implements Dialer.
func (d *ProxyDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	return d.DialContext(ctx, "tcp", address)
}

// DialContext connects to addr through the proxy.
func (d *ProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.proxyURL.Scheme == "socks5" || d.proxyURL.Scheme == "socks5h" {
		return d.dialSOCKS5(ctx, network, addr)
	}
	return d.dialHTTPConnect(ctx, addr)
}

func (d *ProxyDialer) proxyAddr(defaultPort string) string {
	if d.proxyURL.Port() != "" {
		return d.proxyURL.Host
	}
	return net.JoinHostPort(d.proxyURL.Hostname(), defaultPort)
}

func (d *ProxyDialer) dialHTTPConnect(ctx context.Context, targetAddr string) (net.Conn, error) {
	port := "8080"
	if d.proxyURL.Scheme == "https" {
		port = "443"
	}

	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyAddr(port))
	if err != nil {
		return nil, fmt.Errorf("connect to proxy: %w", err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetAddr},
		Host:   targetAddr,
		Header: make(http.Header),
	}
	if d.username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(d.username + ":" + d.password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}

	// Server bytes that arrived with the CONNECT response are already buffered.
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

func (d *ProxyDialer) dialSOCKS5(ctx context.Context, network, targetAddr string) (net.Conn, error) {
	var auth *proxy.Auth
	if d.username != "" {
		auth = &proxy.Auth{User: d.username, Password: d.password}
	}

	dialer, err := proxy.SOCKS5("tcp", d.proxyAddr("1080"), auth, &d.forward)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 dialer: %w", err)
	}

	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
	}

	conn, err := cd.DialContext(ctx, network, targetAddr)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 dial: %w", err)
	}
	return conn, nil
}

// bufferedConn serves bytes read ahead during the proxy handshake first.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// proxyForward returns the proxy dialer configured for rawURL, or nil.
func proxyForward(rawURL string, cfg *TransportConfig) (*ProxyDialer, error) {
	if cfg.Proxy != nil && cfg.Proxy.URL != "" {
		return NewProxyDialer(cfg.Proxy.URL, cfg.Proxy.Username, cfg.Proxy.Password)
	}
	if !cfg.ProxyFromEnvironment {
		return nil, nil
	}

	u, err := ProxyFromEnvironment(rawURL)
	if err != nil || u == nil {
		return nil, err
	}
	return NewProxyDialer(u.String(), "", "")
}

// ProxyFromEnvironment returns the proxy URL for the given server URL based on
// HTTP_PROXY, HTTPS_PROXY and NO_PROXY (or their lowercase forms).
// Returns nil if no proxy should be used.
func ProxyFromEnvironment(targetURL string) (*url.URL, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: server URL: %w", ErrInvalidOption, err)
	}

	if bypassProxy(u.Hostname(), getenvAny("NO_PROXY", "no_proxy")) {
		return nil, nil
	}

	var proxyEnv string
	switch u.Scheme {
	case "ssl", "tls", "mqtts", "wss", "https":
		proxyEnv = getenvAny("HTTPS_PROXY", "https_proxy")
	}
	if proxyEnv == "" {
		proxyEnv = getenvAny("HTTP_PROXY", "http_proxy")
	}
	if proxyEnv == "" {
		return nil, nil
	}

	return url.Parse(proxyEnv)
}

func getenvAny(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// bypassProxy matches host against a NO_PROXY list.
func bypassProxy(host, noProxy string) bool {
	for pattern := range strings.SplitSeq(noProxy, ",") {
		pattern = strings.TrimSpace(pattern)
		switch {
		case pattern == "":
			continue
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "."):
			if strings.HasSuffix(host, pattern) || host == pattern[1:] {
				return true
			}
		case host == pattern || strings.HasSuffix(host, "."+pattern):
			return true
		}
	}
	return false
}
