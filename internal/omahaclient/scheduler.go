// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahaclient

import (
	"context"
	"time"
)

// scheduler drives the outer polling loop of §4.1: compute next timing,
// wait (multiplexed against the control channel), and run one pipeline
// attempt per iteration.
type scheduler struct {
	driver   *pipelineDriver
	policy   PolicyEngine
	ts       TimeSource
	events   *EventBus
	appSet   *AppSet
	ctxState *Context
	control  *ControlHandle
}

// run executes the loop forever until ctx is cancelled. If the app set is
// invalid at entry, it logs and returns without emitting any events.
func (s *scheduler) run(ctx context.Context) {
	defer s.control.close()
	if !s.appSet.Valid() {
		log.Errorf("omahaclient: app set is invalid, scheduler not starting")
		return
	}

	for {
		apps := s.appSet.ToSlice()
		timing, err := s.policy.ComputeNextUpdateTime(ctx, apps, s.ctxState.Schedule, s.ctxState.ProtocolState)
		if err != nil {
			log.Warnf("compute_next_update_time failed: %v", err)
			timing = CheckTiming{Time: s.ts.Now().Wall}
		}
		s.ctxState.Schedule.NextUpdateTime = &timing
		s.events.emitScheduleChange(ctx, s.ctxState.Schedule)

		options, ok := s.waitForNextAttempt(ctx, timing)
		if !ok {
			return
		}

		s.runAttemptAcceptingControl(ctx, options)
	}
}

// waitForNextAttempt blocks until the composite timing (target time AND
// minimum-wait) elapses, or a control request arrives (replied Started
// immediately, its options taking priority), or ctx is cancelled.
func (s *scheduler) waitForNextAttempt(ctx context.Context, timing CheckTiming) (CheckOptions, bool) {
	target := timing.Time
	if timing.MinimumWait != nil {
		minTarget := s.ts.Now().Wall.Add(*timing.MinimumWait)
		if minTarget.After(target) {
			target = minTarget
		}
	}

	timerDone := make(chan error, 1)
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	go func() {
		timerDone <- s.ts.WaitUntil(waitCtx, target)
	}()

	select {
	case req := <-s.control.requests:
		cancelWait()
		req.response <- startUpdateCheckResult{resp: Started}
		return req.options, true
	case err := <-timerDone:
		if err != nil {
			return CheckOptions{}, false
		}
		return CheckOptions{Source: ScheduledTask}, true
	case <-ctx.Done():
		return CheckOptions{}, false
	}
}

// runAttemptAcceptingControl drives one pipeline attempt while replying
// AlreadyRunning to any control request that arrives concurrently.
func (s *scheduler) runAttemptAcceptingControl(ctx context.Context, options CheckOptions) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.driver.runAttempt(ctx, options, s.ctxState, s.appSet)
	}()

	for {
		select {
		case req := <-s.control.requests:
			req.response <- startUpdateCheckResult{resp: AlreadyRunning}
		case <-done:
			return
		}
	}
}

// defaultRebootPollInterval is the wait between reboot_allowed re-queries
// used when Config.RebootPollInterval is zero.
const defaultRebootPollInterval = 30 * time.Minute
