package http

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/guildwire/guildwire/internal/config"
	"github.com/guildwire/guildwire/internal/constants"
	"github.com/guildwire/guildwire/internal/logging"
)

// ConfigureHTTPClient builds an HTTP client for REST calls with proxy settings
// applied. The client has no overall timeout: each request carries its own
// deadline through its context, and ResponseHeaderTimeout bounds a stalled
// server so the call surfaces as a timeout-class network error.
func ConfigureHTTPClient(cfg config.ProxyConfig, logger *logging.Logger) (*nethttp.Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	transport := &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
		ResponseHeaderTimeout: constants.HTTPResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}

	var roundTripper nethttp.RoundTripper = transport

	switch strings.ToLower(cfg.Mode) {
	case config.ProxyNone, "":
		transport.Proxy = nil

	case config.ProxySystem:
		transport.Proxy = nethttp.ProxyFromEnvironment

	case config.ProxyNTLM:
		if cfg.Host == "" {
			logger.Warn().Msg("proxy mode is ntlm but host is missing, connecting directly")
			break
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(cfg), cfg.NoProxy, logger)
		roundTripper = ntlmssp.Negotiator{RoundTripper: transport}

	case config.ProxyBasic:
		if cfg.Host == "" {
			logger.Warn().Msg("proxy mode is basic but host is missing, connecting directly")
			break
		}
		if cfg.User != "" && cfg.Password == "" {
			logger.Warn().Msg("proxy user configured but password missing, proxy auth disabled")
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(cfg), cfg.NoProxy, logger)

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.Mode)
	}

	if err := enableHTTP2(transport, cfg.Mode); err != nil {
		logger.Debug().Err(err).Msg("http2 not configured, using http/1.1")
	}

	return &nethttp.Client{Transport: roundTripper}, nil
}

// buildProxyURL constructs a proxy URL from config
func buildProxyURL(cfg config.ProxyConfig) *url.URL {
	port := cfg.Port
	if port == 0 {
		port = 8080 // Default proxy port
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
	}

	// Only embed credentials if both user AND password are provided.
	// An empty password in the URL causes auth failures with some proxies.
	if cfg.User != "" && cfg.Password != "" {
		proxyURL.User = url.UserPassword(cfg.User, cfg.Password)
	}

	return proxyURL
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy bypass list.
// If noProxy is empty, behaves identically to nethttp.ProxyURL.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string, logger *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			logger.Trace().Str("host", req.URL.Host).Msg("proxy bypass")
		} else {
			logger.Trace().Str("host", req.URL.Host).Str("proxy", result.Host).Msg("proxied")
		}
		return result, err
	}
}
