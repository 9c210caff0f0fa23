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

func newTestStateMachine(t *testing.T, store *fakeStorage) (*StateMachine, *fakeHTTPClient, *fakePolicy) {
	t.Helper()
	http := &fakeHTTPClient{responses: []fakeHTTPResult{{status: 200, body: "{}"}}}
	policy := allowAllPolicy()
	sm := New(Config{
		ServiceURL: "https://updates.example.com/v1/check",
		Apps:       []App{{ID: "A", Version: []uint32{1, 0, 0}}},
		Policy:     policy,
		Builder:    &fakeRequestBuilder{},
		Parser:     &fakeResponseParser{parsed: ParsedResponse{Response: Response{Apps: []AppResponse{{AppID: "A"}}}}},
		HTTPClient: http,
		Installer:  &fakeInstaller{planID: "plan-1"},
		Storage:    store,
		Metrics:    &fakeMetrics{},
		TimeSource: newFakeTimeSource(),
	})
	return sm, http, policy
}

func TestStateMachine_InitHydratesPersistedState(t *testing.T) {
	store := newFakeStorage()
	ctx := context.Background()
	require.NoError(t, store.SetInt(ctx, keyConsecutiveFailedUpdateChecks, 2))
	require.NoError(t, store.SetString(ctx, "app.A", `{"cohort":{"hint":"beta"},"user_counting":{}}`))

	sm, _, _ := newTestStateMachine(t, store)
	require.NoError(t, sm.Init(ctx))

	assert.Equal(t, uint32(2), sm.ctxState.ProtocolState.ConsecutiveFailedUpdateChecks)
	assert.Equal(t, "beta", sm.appSet.apps[0].Cohort.Hint)
}

func TestStateMachine_RunAttemptOnceReturnsAResponse(t *testing.T) {
	sm, _, _ := newTestStateMachine(t, newFakeStorage())
	require.NoError(t, sm.Init(context.Background()))

	resp, err := sm.RunAttemptOnce(context.Background(), CheckOptions{Source: OnDemand})

	require.Nil(t, err)
	require.Len(t, resp.Apps, 1)
}

func TestStateMachine_SubscribeReceivesEventsDuringRunAttemptOnce(t *testing.T) {
	sm, _, _ := newTestStateMachine(t, newFakeStorage())
	require.NoError(t, sm.Init(context.Background()))

	obs := &recordingObserver{}
	sm.Subscribe(obs)

	_, err := sm.RunAttemptOnce(context.Background(), CheckOptions{Source: OnDemand})
	require.Nil(t, err)

	assert.NotEmpty(t, obs.states())
}

func TestStateMachine_ControlStartUpdateCheckWhileRunningGetsAReply(t *testing.T) {
	sm, _, _ := newTestStateMachine(t, newFakeStorage())
	require.NoError(t, sm.Init(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		sm.Run(ctx)
	}()

	// The scheduler's fake policy yields an immediate timing, so the request
	// may land either while idle-waiting (Started) or mid-attempt
	// (AlreadyRunning); either is a valid, non-blocking reply.
	resp, err := sm.Control().StartUpdateCheck(ctx, CheckOptions{Source: OnDemand})
	require.NoError(t, err)
	assert.Contains(t, []StartUpdateCheckResponse{Started, AlreadyRunning}, resp)

	cancel()
	<-runDone
}

func TestStateMachine_ControlAfterRunExitsReturnsStateMachineGone(t *testing.T) {
	sm, _, _ := newTestStateMachine(t, newFakeStorage())
	require.NoError(t, sm.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		sm.Run(ctx)
	}()
	cancel()
	<-runDone

	_, err := sm.Control().StartUpdateCheck(context.Background(), CheckOptions{})
	assert.ErrorIs(t, err, ErrStateMachineGone)
}
