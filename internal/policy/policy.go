// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package policy provides the reference PolicyEngine: a stub-style
// always-allow engine for scheduling and check-allowed decisions, gated on
// install-allowed and reboot-allowed by a set of cron-scheduled maintenance
// blackout windows.
package policy

import (
	"context"
	"sync"
	"time"

	"github.com/edgecheck/updatecheck/internal/logger"
	"github.com/edgecheck/updatecheck/internal/omahaclient"
	"github.com/go-co-op/gocron"
)

var log = logger.Logger()

// Blackout describes one maintenance window: a cron spec for its start and
// a duration for how long it lasts.
type Blackout struct {
	CronSpec string
	Duration time.Duration
}

// Engine is the reference PolicyEngine: it allows every check immediately
// (mirroring the upstream stub policy) but defers installs and withholds
// reboot permission while any configured blackout window is active.
type Engine struct {
	checkInterval    time.Duration
	minCheckInterval time.Duration
	maxCheckInterval time.Duration

	gate *blackoutGate
}

// New builds an Engine. checkInterval is the nominal period between
// attempts absent a server-dictated override, clamped to
// [minCheckInterval, maxCheckInterval]. Blackout windows start scheduling
// immediately.
func New(checkInterval, minCheckInterval, maxCheckInterval time.Duration, blackouts []Blackout) (*Engine, error) {
	gate, err := newBlackoutGate(blackouts)
	if err != nil {
		return nil, err
	}
	return &Engine{
		checkInterval:    checkInterval,
		minCheckInterval: minCheckInterval,
		maxCheckInterval: maxCheckInterval,
		gate:             gate,
	}, nil
}

// ComputeNextUpdateTime schedules the next attempt checkInterval from now,
// honoring a server-dictated poll interval if the protocol state carries
// one, clamped to [minCheckInterval, maxCheckInterval].
func (e *Engine) ComputeNextUpdateTime(ctx context.Context, apps []omahaclient.App, schedule omahaclient.UpdateCheckSchedule, protocolState omahaclient.ProtocolState) (omahaclient.CheckTiming, error) {
	interval := e.checkInterval
	if protocolState.ServerDictatedPollInterval != nil {
		interval = *protocolState.ServerDictatedPollInterval
	}
	if interval < e.minCheckInterval {
		interval = e.minCheckInterval
	}
	if interval > e.maxCheckInterval {
		interval = e.maxCheckInterval
	}
	return omahaclient.CheckTiming{Time: time.Now().Add(interval)}, nil
}

// UpdateCheckAllowed always allows the check, mirroring the upstream stub
// policy: the attempt itself is not gated by blackout windows, only the
// subsequent install and reboot are.
func (e *Engine) UpdateCheckAllowed(ctx context.Context, apps []omahaclient.App, schedule omahaclient.UpdateCheckSchedule, protocolState omahaclient.ProtocolState, options omahaclient.CheckOptions) (omahaclient.CheckDecision, error) {
	return omahaclient.CheckDecision{
		Kind:   omahaclient.CheckOk,
		Params: omahaclient.RequestParams{Source: options.Source, UseConfiguredProxies: true},
	}, nil
}

// UpdateCanStart defers the install while a blackout window is active,
// otherwise allows it.
func (e *Engine) UpdateCanStart(ctx context.Context, plan omahaclient.InstallPlan) (omahaclient.UpdateDecision, error) {
	if e.gate.active() {
		return omahaclient.UpdateDeferredByPolicy, nil
	}
	return omahaclient.UpdateOk, nil
}

// RebootAllowed withholds permission while a blackout window is active.
func (e *Engine) RebootAllowed(ctx context.Context, options omahaclient.CheckOptions) (bool, error) {
	return !e.gate.active(), nil
}

// blackoutGate tracks whether any configured maintenance window is
// currently active, toggled by a gocron scheduler: one recurring job per
// window sets the flag true on its cron trigger, then schedules a
// single-shot follow-up job (the same Every(1)...LimitRunsTo(1) idiom used
// for one-off installs) to clear it after Duration.
type blackoutGate struct {
	mu        sync.Mutex
	activeSet map[int]bool

	scheduler *gocron.Scheduler
}

func newBlackoutGate(blackouts []Blackout) (*blackoutGate, error) {
	g := &blackoutGate{
		activeSet: make(map[int]bool, len(blackouts)),
		scheduler: gocron.NewScheduler(time.UTC),
	}

	for i, b := range blackouts {
		idx := i
		duration := b.Duration
		_, err := g.scheduler.Cron(b.CronSpec).Do(func() {
			g.setActive(idx, true)
			_, err := g.scheduler.Every(1).Day().StartAt(time.Now().Add(duration)).LimitRunsTo(1).Do(func() {
				g.setActive(idx, false)
			})
			if err != nil {
				log.Errorf("scheduling blackout end for window %d failed: %v", idx, err)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	g.scheduler.StartAsync()
	return g, nil
}

func (g *blackoutGate) setActive(idx int, active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activeSet[idx] = active
}

func (g *blackoutGate) active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range g.activeSet {
		if v {
			return true
		}
	}
	return false
}
