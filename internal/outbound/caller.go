// Package outbound issues the single, no-retry HTTP GET every breaker
// wraps. It owns nothing but the network call and classification of its
// failure.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brightlane/recoguard/internal/breaker"
	"go.uber.org/zap"
)

// Caller issues a single GET against an upstream and decodes its JSON body.
type Caller struct {
	client *http.Client
	log    *zap.SugaredLogger
}

// New builds a Caller with a shared, long-lived http.Client.
func New(log *zap.SugaredLogger) *Caller {
	return &Caller{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log,
	}
}

// Get issues one GET to url with the given deadline and decodes the JSON
// response body into T. It never retries. The returned error, when
// non-nil, is always a *breaker.Failure.
func Get[T any](ctx context.Context, c *Caller, url string, deadline time.Duration) (T, error) {
	var zero T

	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return zero, &breaker.Failure{Kind: breaker.KindTransportError, Detail: err.Error()}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, &breaker.Failure{Kind: breaker.KindTimeout, Detail: fmt.Sprintf("GET %s exceeded %s", url, deadline)}
		}
		c.log.Warnw("outbound call failed", "url", url, "err", err)
		return zero, &breaker.Failure{Kind: breaker.KindTransportError, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return zero, &breaker.Failure{
			Kind:   breaker.KindUpstreamError,
			Detail: fmt.Sprintf("GET %s returned %d", url, resp.StatusCode),
			Status: resp.StatusCode,
		}
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, &breaker.Failure{Kind: breaker.KindTransportError, Detail: fmt.Sprintf("decode body from %s: %v", url, err)}
	}

	c.log.Debugw("outbound call succeeded", "url", url)
	return out, nil
}
