package fetch

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/regscope-ai/platform/pkg/common/logger"
)

// Tuning bounds the retry behavior of Do. Every poller shares the same
// primitive; only the numbers differ per deployment.
type Tuning struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration // per-attempt budget
}

func DefaultTuning() Tuning {
	return Tuning{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Timeout:     15 * time.Second,
	}
}

// New creates an HTTP client tuned for outbound calls to upstream
// regulatory APIs.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Do performs req under tuning.Timeout per attempt, retrying 429/5xx and
// transport-level failures with capped exponential backoff. The server's
// Retry-After header wins over the computed backoff when present. On the
// final attempt the failed *response* is returned rather than an error, so
// callers can distinguish a non-retryable 4xx (stop paging) from an
// exhausted 5xx (skip the page, keep going). A transport error on the final
// attempt is returned as-is.
//
// Requests with a body must set GetBody so attempts after the first can be
// replayed.
func Do(ctx context.Context, client *http.Client, req *http.Request, tuning Tuning) (*http.Response, error) {
	if tuning.MaxAttempts < 1 {
		tuning.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= tuning.MaxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if tuning.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, tuning.Timeout)
		}

		attemptReq, err := cloneRequest(attemptCtx, req)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			return nil, err
		}

		resp, doErr := client.Do(attemptReq)
		if cancel != nil {
			// Cancel only after the body is no longer needed; retained
			// responses are fully read by the caller, so tie the cancel to
			// the body instead of deferring it here.
			if resp != nil {
				resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
			} else {
				cancel()
			}
		}

		if doErr != nil {
			lastErr = doErr
			if attempt == tuning.MaxAttempts {
				return nil, lastErr
			}
			wait := backoffDelay(attempt, tuning)
			logger.Log.WithError(doErr).WithFields(map[string]interface{}{
				"url":     req.URL.String(),
				"attempt": attempt,
				"wait_ms": wait.Milliseconds(),
			}).Warn("fetch attempt failed, retrying")
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if !shouldRetry(resp.StatusCode) || attempt == tuning.MaxAttempts {
			return resp, nil
		}

		wait := retryAfter(resp)
		if wait <= 0 {
			wait = backoffDelay(attempt, tuning)
		}
		logger.Log.WithFields(map[string]interface{}{
			"url":     req.URL.String(),
			"status":  resp.StatusCode,
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
		}).Warn("upstream throttled or erroring, retrying")

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	// Unreachable: the loop always returns on the final attempt.
	return nil, lastErr
}

func shouldRetry(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// backoffDelay computes min(maxDelay, base*2^(attempt-1)) plus up to 100ms
// of jitter.
func backoffDelay(attempt int, tuning Tuning) time.Duration {
	delay := tuning.BaseDelay << (attempt - 1)
	if tuning.MaxDelay > 0 && delay > tuning.MaxDelay {
		delay = tuning.MaxDelay
	}
	return delay + time.Duration(rand.Int63n(100))*time.Millisecond
}

// retryAfter parses the Retry-After header, which carries either a delay in
// seconds or an HTTP-date.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("fetch: request with body requires GetBody for retries")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
