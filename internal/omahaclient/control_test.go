// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahaclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlHandle_StartUpdateCheckDeliversRequestAndReply(t *testing.T) {
	h := newControlHandle(1)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := h.StartUpdateCheck(ctx, CheckOptions{Source: OnDemand})
		assert.NoError(t, err)
		assert.Equal(t, Started, resp)
	}()

	req := <-h.requests
	assert.Equal(t, OnDemand, req.options.Source)
	req.response <- startUpdateCheckResult{resp: Started}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartUpdateCheck did not return")
	}
}

func TestControlHandle_CloseFailsQueuedRequests(t *testing.T) {
	h := newControlHandle(1)
	reply := make(chan startUpdateCheckResult, 1)
	h.requests <- controlRequest{response: reply}

	h.close()

	result := <-reply
	assert.ErrorIs(t, result.err, ErrStateMachineGone)
}

func TestControlHandle_StartUpdateCheckAfterCloseFailsImmediately(t *testing.T) {
	h := newControlHandle(1)
	h.close()

	resp, err := h.StartUpdateCheck(context.Background(), CheckOptions{})

	assert.ErrorIs(t, err, ErrStateMachineGone)
	assert.Equal(t, StartUpdateCheckResponse(0), resp)
}

func TestControlHandle_StartUpdateCheckRespectsContextCancellation(t *testing.T) {
	h := newControlHandle(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.StartUpdateCheck(ctx, CheckOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
