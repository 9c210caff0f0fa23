// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahaclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomize_StaysWithinRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		v := randomize(1000, 500)
		assert.GreaterOrEqual(t, v, int64(1000-250))
		assert.Less(t, v, int64(1000-250+500))
	}
}

func TestRandomize_ZeroRangeReturnsExactValue(t *testing.T) {
	assert.Equal(t, int64(42), randomize(42, 0))
}

func TestOmahaBackOff_DoublesPerAttempt(t *testing.T) {
	bo := &omahaBackOff{}
	for attempt, wantBaseMs := range map[int]int64{1: 1000, 2: 2000, 3: 4000} {
		bo.attempt = attempt - 1
		d := bo.NextBackOff()
		lo := time.Duration(wantBaseMs-500) * time.Millisecond
		hi := time.Duration(wantBaseMs+500) * time.Millisecond
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestOmahaBackOff_ResetZeroesAttemptCounter(t *testing.T) {
	bo := &omahaBackOff{attempt: 5}
	bo.Reset()
	assert.Equal(t, 0, bo.attempt)
}

func TestRetryingRequester_SucceedsOnFirstAttempt(t *testing.T) {
	ts := newFakeTimeSource()
	http := &fakeHTTPClient{responses: []fakeHTTPResult{{status: 200, body: `{"ok":true}`}}}
	r := newRetryingRequester(http, ts)

	res, attempts, _, reqErr := r.do(context.Background(), "https://example.test", []byte("req"))

	require.Nil(t, reqErr)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, `{"ok":true}`, string(res.body))
	assert.Equal(t, 1, http.calls)
}

func TestRetryingRequester_RetriesTransportFailureThenSucceeds(t *testing.T) {
	ts := newFakeTimeSource()
	http := &fakeHTTPClient{responses: []fakeHTTPResult{
		{err: errors.New("connection reset")},
		{status: 200, body: `{"ok":true}`},
	}}
	r := newRetryingRequester(http, ts)

	res, attempts, _, reqErr := r.do(context.Background(), "https://example.test", []byte("req"))

	require.Nil(t, reqErr)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, `{"ok":true}`, string(res.body))
}

func TestRetryingRequester_StopsAfterMaxAttempts(t *testing.T) {
	ts := newFakeTimeSource()
	http := &fakeHTTPClient{responses: []fakeHTTPResult{
		{status: 503}, {status: 503}, {status: 503}, {status: 503},
	}}
	r := newRetryingRequester(http, ts)

	_, attempts, _, reqErr := r.do(context.Background(), "https://example.test", []byte("req"))

	require.NotNil(t, reqErr)
	assert.Equal(t, maxOmahaRequestAttempts, attempts)
	assert.Equal(t, maxOmahaRequestAttempts, http.calls)
	assert.Equal(t, OmahaErrHTTPStatus, reqErr.Kind)
}

func TestRetryingRequester_UserErrorIsNotRetried(t *testing.T) {
	ts := newFakeTimeSource()
	http := &fakeHTTPClient{responses: []fakeHTTPResult{
		{err: errors.New("bad url"), user: true},
	}}
	r := newRetryingRequester(http, ts)

	_, attempts, _, reqErr := r.do(context.Background(), "not a url", []byte("req"))

	require.NotNil(t, reqErr)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, http.calls)
	assert.Equal(t, OmahaErrHTTPBuilder, reqErr.Kind)
}

func TestRetryingRequester_CancelledContextIsTerminal(t *testing.T) {
	ts := newFakeTimeSource()
	http := &fakeHTTPClient{responses: []fakeHTTPResult{{status: 503}, {status: 503}}}
	r := newRetryingRequester(http, ts)

	ctx, cancel := context.WithCancel(context.Background())
	ts.waitErr = context.Canceled
	cancel()

	_, _, _, reqErr := r.do(ctx, "https://example.test", []byte("req"))

	require.NotNil(t, reqErr)
	assert.Equal(t, OmahaErrTransport, reqErr.Kind)
}
