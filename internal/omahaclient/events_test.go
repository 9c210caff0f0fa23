// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahaclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_DeliversToObserversInRegistrationOrder(t *testing.T) {
	var order []string
	a := FuncObserver(func(ctx context.Context, ev StateMachineEvent) { order = append(order, "a") })
	b := FuncObserver(func(ctx context.Context, ev StateMachineEvent) { order = append(order, "b") })
	bus := NewEventBus(a, b)

	bus.emitStateChange(context.Background(), Idle)

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestEventBus_SubscribeAddsAnObserver(t *testing.T) {
	var calls int
	bus := NewEventBus()
	bus.Subscribe(FuncObserver(func(ctx context.Context, ev StateMachineEvent) { calls++ }))

	bus.emitScheduleChange(context.Background(), UpdateCheckSchedule{})

	assert.Equal(t, 1, calls)
}

func TestEventBus_EmitCarriesTheRightPayloadPerKind(t *testing.T) {
	var got StateMachineEvent
	bus := NewEventBus(FuncObserver(func(ctx context.Context, ev StateMachineEvent) { got = ev }))

	bus.emitInstallProgress(context.Background(), 0.5)
	assert.Equal(t, EventInstallProgressChange, got.Kind)
	assert.Equal(t, float32(0.5), got.InstallProgress)

	bus.emitUpdateCheckResult(context.Background(), &Response{}, nil)
	assert.Equal(t, EventUpdateCheckResult, got.Kind)
	assert.NotNil(t, got.Result)
	assert.Nil(t, got.Result.Err)
}

func TestEventBus_NoObserversDoesNotPanic(t *testing.T) {
	bus := NewEventBus()
	assert.NotPanics(t, func() {
		bus.emitStateChange(context.Background(), Idle)
	})
}
