// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahaclient

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxOmahaRequestAttempts bounds RetryingRequester; see §4.3.
const maxOmahaRequestAttempts = 3

// randomize returns a uniform integer in [n-range/2, n-range/2+range), the
// jitter function applied to the backoff base.
func randomize(n, rng int64) int64 {
	if rng <= 0 {
		return n
	}
	return n - rng/2 + rand.Int63n(rng)
}

// omahaBackOff implements backoff.BackOff with the exact retry timing from
// §4.3: base_ms = 1000*2^(attempt-1), jittered by ±500ms.
type omahaBackOff struct {
	attempt int
}

func (b *omahaBackOff) Reset() { b.attempt = 0 }

func (b *omahaBackOff) NextBackOff() time.Duration {
	b.attempt++
	baseMs := int64(1000) << uint(b.attempt-1)
	ms := randomize(baseMs, 1000)
	return time.Duration(ms) * time.Millisecond
}

// timeSourceTimer adapts a TimeSource to backoff.Timer so that
// backoff.RetryNotifyWithTimer waits through the same cancellable clock
// abstraction the rest of the pipeline uses, instead of a real time.Timer.
type timeSourceTimer struct {
	ctx context.Context
	ts  TimeSource
	c   chan time.Time
}

func newTimeSourceTimer(ctx context.Context, ts TimeSource) *timeSourceTimer {
	return &timeSourceTimer{ctx: ctx, ts: ts, c: make(chan time.Time, 1)}
}

// Start waits d through the TimeSource and fires C regardless of whether the
// wait succeeded or was cut short; a failed wait (ctx cancellation) is left
// for the next operation call to discover via ctx.Err() and turn terminal.
func (t *timeSourceTimer) Start(d time.Duration) {
	go func() {
		_ = t.ts.WaitFor(t.ctx, d)
		select {
		case t.c <- t.ts.Now().Wall:
		default:
		}
	}()
}

func (t *timeSourceTimer) Stop() {}

func (t *timeSourceTimer) C() <-chan time.Time { return t.c }

// requestResult is the outcome of one successful exchange.
type requestResult struct {
	body []byte
}

// retryingRequester performs the update-service exchange with bounded
// retries and randomized backoff, classifying errors per §4.3.
type retryingRequester struct {
	http HTTPClient
	ts   TimeSource
}

func newRetryingRequester(http HTTPClient, ts TimeSource) *retryingRequester {
	return &retryingRequester{http: http, ts: ts}
}

// do executes the exchange against url with the given request body, driving
// retries through backoff.RetryNotifyWithTimer: omahaBackOff supplies the jittered delay,
// bounded to maxOmahaRequestAttempts-1 retries by backoff.WithMaxRetries,
// exactly as the teacher bounds its own retried exchanges. Errors classified
// as non-retryable by OmahaRequestError.retryable() are wrapped in
// backoff.Permanent so the library stops immediately instead of exhausting
// the retry budget. It returns the response body, the number of attempts
// used, and the elapsed wall time, or a terminal *OmahaRequestError.
func (r *retryingRequester) do(ctx context.Context, url string, body []byte) (requestResult, int, time.Duration, *OmahaRequestError) {
	start := r.ts.Now()
	attempts := 0
	var result requestResult

	op := func() error {
		attempts++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(&OmahaRequestError{Kind: OmahaErrTransport, Err: err})
		}

		resp, err := r.http.Do(ctx, url, body)
		var reqErr *OmahaRequestError
		switch {
		case err != nil && r.http.IsUserError(err):
			reqErr = &OmahaRequestError{Kind: OmahaErrHTTPBuilder, Err: err}
		case err != nil:
			reqErr = &OmahaRequestError{Kind: OmahaErrTransport, Err: err}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			if resp.Body != nil {
				resp.Body.Close()
			}
			reqErr = &OmahaRequestError{Kind: OmahaErrHTTPStatus, StatusCode: resp.StatusCode}
		default:
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				reqErr = &OmahaRequestError{Kind: OmahaErrTransport, Err: readErr}
			} else {
				result = requestResult{body: data}
				return nil
			}
		}

		if !reqErr.retryable() {
			return backoff.Permanent(reqErr)
		}
		return reqErr
	}

	bo := backoff.WithMaxRetries(&omahaBackOff{}, uint64(maxOmahaRequestAttempts-1))
	timer := newTimeSourceTimer(ctx, r.ts)
	retryErr := backoff.RetryNotifyWithTimer(op, bo, nil, timer)

	elapsed := r.ts.Now().Wall.Sub(start.Wall)
	if attempts > maxOmahaRequestAttempts {
		attempts = maxOmahaRequestAttempts
	}
	if retryErr == nil {
		return result, attempts, elapsed, nil
	}
	reqErr, ok := retryErr.(*OmahaRequestError)
	if !ok {
		reqErr = &OmahaRequestError{Kind: OmahaErrTransport, Err: retryErr}
	}
	return requestResult{}, attempts, elapsed, reqErr
}
