package http

import (
	"context"
	"crypto/tls"
	nethttp "net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"

	"github.com/guildwire/guildwire/internal/config"
	"github.com/guildwire/guildwire/internal/constants"
	"github.com/guildwire/guildwire/internal/logging"
)

// enableHTTP2 configures HTTP/2 on the transport. Proxies are kept on
// HTTP/1.1 because many of them mishandle multiplexed streams.
//
// Set DISABLE_HTTP2=true to force HTTP/1.1 everywhere.
func enableHTTP2(tr *nethttp.Transport, proxyMode string) error {
	proxyActive := proxyMode != "" && proxyMode != config.ProxyNone
	if os.Getenv("DISABLE_HTTP2") == "true" || proxyActive {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
		return nil
	}
	return http2.ConfigureTransport(tr)
}

// retryLogger adapts the library logger to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// retryablehttp logs every attempt at info; keep those at trace.
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// NewRetryingClient wraps base in a retryablehttp client whose only retry is
// a single re-attempt of a call that failed with a timeout-class network
// error. HTTP status codes are never retried here: 429 and 5xx responses are
// handed back untouched because the rate-limit dispatcher owns that policy.
func NewRetryingClient(base *nethttp.Client, retryOnTimeout bool, logger *logging.Logger) *retryablehttp.Client {
	if logger == nil {
		logger = logging.NewNop()
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = base
	client.Logger = &retryLogger{logger: logger}
	client.RetryWaitMin = constants.TimeoutRetryWait
	client.RetryWaitMax = constants.TimeoutRetryWait
	client.RetryMax = 0
	if retryOnTimeout {
		client.RetryMax = 1
	}
	client.CheckRetry = TimeoutRetryPolicy
	client.Backoff = func(min, max time.Duration, attemptNum int, resp *nethttp.Response) time.Duration {
		return min
	}
	// Surface the underlying error instead of "giving up after N attempts".
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// TimeoutRetryPolicy is a retryablehttp.CheckRetry that retries only when the
// attempt produced no response because of a timeout-class failure.
func TimeoutRetryPolicy(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	return IsTimeout(err), nil
}
