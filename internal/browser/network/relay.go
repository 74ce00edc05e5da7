// internal/browser/network/relay.go
package network

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/config"
)

const relayDialTimeout = 15 * time.Second

// Relay is a loopback forward proxy that injects Proxy-Authorization
// toward an authenticated upstream. Chromium has no flag for proxy
// credentials and answers 407s with a modal dialog, so the browser is
// pointed at this relay and the relay does the authenticating.
type Relay struct {
	cfg    config.ProxyConfig
	logger *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	addr     string
}

func NewRelay(cfg config.ProxyConfig, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		cfg:    cfg,
		logger: logger.Named("proxy_relay"),
	}
}

// Start binds the relay and begins serving. Returns the address the
// browser should use as its proxy server. Calling Start on a running
// relay returns the existing address.
func (r *Relay) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return r.addr, nil
	}

	upstream, err := url.Parse(r.cfg.Upstream)
	if err != nil {
		return "", fmt.Errorf("parsing upstream proxy url: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return "", fmt.Errorf("upstream proxy url %q needs a scheme and host", r.cfg.Upstream)
	}

	listenAddr := r.cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return "", fmt.Errorf("binding relay listener: %w", err)
	}

	proxy := goproxy.NewProxyHttpServer()

	// Plain HTTP goes through the transport. With the credentials
	// embedded in the proxy URL, net/http adds Proxy-Authorization on
	// its own.
	transportUpstream := *upstream
	if r.cfg.Username != "" {
		transportUpstream.User = url.UserPassword(r.cfg.Username, r.cfg.Password)
	}
	proxy.Tr = &http.Transport{
		Proxy:                 http.ProxyURL(&transportUpstream),
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	// CONNECT tunnels need the header on the CONNECT itself, so the
	// handshake is performed by hand.
	auth := proxyBasicAuth(r.cfg.Username, r.cfg.Password)
	upstreamAddr := hostPort(upstream)
	proxy.ConnectDial = func(network, addr string) (net.Conn, error) {
		return dialViaUpstream(network, addr, upstreamAddr, auth)
	}

	r.listener = listener
	r.addr = "http://" + listener.Addr().String()
	r.server = &http.Server{Handler: proxy}

	go func() {
		if err := r.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			r.logger.Error("relay server stopped unexpectedly", zap.Error(err))
		}
	}()

	r.logger.Info("proxy relay listening",
		zap.String("listen", r.addr),
		zap.String("upstream", upstream.Redacted()),
	)
	return r.addr, nil
}

// Addr returns the relay's listen address, empty before Start.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Stop shuts the relay down, waiting for in-flight tunnels up to the
// context deadline.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	server := r.server
	r.server = nil
	r.listener = nil
	r.addr = ""
	r.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func proxyBasicAuth(user, pass string) string {
	if user == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

// dialViaUpstream opens a tunnel to addr through the upstream proxy by
// performing the CONNECT handshake, attaching credentials when set.
func dialViaUpstream(network, addr, upstreamAddr, auth string) (net.Conn, error) {
	conn, err := net.DialTimeout(network, upstreamAddr, relayDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing upstream proxy %s: %w", upstreamAddr, err)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if auth != "" {
		connectReq.Header.Set("Proxy-Authorization", auth)
	}

	_ = conn.SetDeadline(time.Now().Add(relayDialTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := connectReq.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("upstream proxy refused CONNECT to %s: %s", addr, resp.Status)
	}

	// The reader may have buffered bytes past the response header; they
	// belong to the tunnel and must not be dropped.
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, prefix: br}, nil
	}
	return conn, nil
}

// bufferedConn drains an already-buffered reader before reading from
// the wrapped connection.
type bufferedConn struct {
	net.Conn
	prefix io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if c.prefix != nil {
		n, err := c.prefix.Read(p)
		if err == io.EOF {
			c.prefix = nil
			if n > 0 {
				return n, nil
			}
		} else if n > 0 || err != nil {
			return n, err
		}
	}
	return c.Conn.Read(p)
}
