// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahaclient

import (
	"context"
	"time"
)

const defaultControlBufferSize = 1

// Config wires a StateMachine to its collaborators. All fields except
// Metrics, RebootPollInterval and ControlBufferSize are required; a nil
// Metrics disables metric reporting.
type Config struct {
	ServiceURL string
	Apps       []App

	Policy     PolicyEngine
	Builder    RequestBuilder
	Parser     ResponseParser
	HTTPClient HTTPClient
	Installer  Installer
	Storage    Storage
	Metrics    MetricsReporter
	TimeSource TimeSource

	// RebootPollInterval overrides the default 30-minute re-query of
	// reboot_allowed while WaitingForReboot. Zero selects the default.
	RebootPollInterval time.Duration

	// ControlBufferSize overrides the control channel's buffer depth.
	// Zero selects a buffer of 1.
	ControlBufferSize int
}

// StateMachine ties the scheduler loop, pipeline driver, persistence, and
// event bus together into the runnable core described in §2.
type StateMachine struct {
	scheduler *scheduler
	driver    *pipelineDriver
	control   *ControlHandle
	events    *EventBus
	storage   *persistenceAdapter
	appSet    *AppSet
	ctxState  *Context
}

// New constructs a StateMachine from its collaborators. Call Init to
// hydrate persisted state before calling Run.
func New(cfg Config) *StateMachine {
	events := NewEventBus()
	persistence := newPersistenceAdapter(cfg.Storage)
	requester := newRetryingRequester(cfg.HTTPClient, cfg.TimeSource)

	rebootPoll := cfg.RebootPollInterval
	if rebootPoll <= 0 {
		rebootPoll = defaultRebootPollInterval
	}

	driver := &pipelineDriver{
		serviceURL:         cfg.ServiceURL,
		policy:             cfg.Policy,
		builder:            cfg.Builder,
		parser:             cfg.Parser,
		requester:          requester,
		installer:          cfg.Installer,
		storage:            persistence,
		metrics:            cfg.Metrics,
		events:             events,
		ts:                 cfg.TimeSource,
		rebootPollInterval: rebootPoll,
	}

	appSet := NewAppSet(cfg.Apps)
	ctxState := &Context{}

	bufSize := cfg.ControlBufferSize
	if bufSize <= 0 {
		bufSize = defaultControlBufferSize
	}
	control := newControlHandle(bufSize)

	sched := &scheduler{
		driver:   driver,
		policy:   cfg.Policy,
		ts:       cfg.TimeSource,
		events:   events,
		appSet:   appSet,
		ctxState: ctxState,
		control:  control,
	}

	return &StateMachine{
		scheduler: sched,
		driver:    driver,
		control:   control,
		events:    events,
		storage:   persistence,
		appSet:    appSet,
		ctxState:  ctxState,
	}
}

// Subscribe registers an additional observer on the event stream. Must be
// called before Run starts emitting events from another goroutine.
func (m *StateMachine) Subscribe(o Observer) {
	m.events.Subscribe(o)
}

// Control returns the handle external callers use to request on-demand
// checks.
func (m *StateMachine) Control() *ControlHandle {
	return m.control
}

// Init hydrates the schedule, protocol state, and per-app records from
// Storage. Call it once, before Run.
func (m *StateMachine) Init(ctx context.Context) error {
	if failed, err := m.storage.consecutiveFailedUpdateChecks(ctx); err == nil {
		m.ctxState.ProtocolState.ConsecutiveFailedUpdateChecks = uint32(failed)
	} else {
		log.Warnf("reading consecutive_failed_update_checks failed: %v", err)
	}

	if interval, err := m.storage.serverDictatedPollInterval(ctx); err == nil {
		m.ctxState.ProtocolState.ServerDictatedPollInterval = interval
	} else {
		log.Warnf("reading server_dictated_poll_interval failed: %v", err)
	}

	if t, ok, err := m.storage.getTime(ctx, keyLastUpdateTime); err != nil {
		log.Warnf("reading last_update_time failed: %v", err)
	} else if ok {
		m.ctxState.Schedule.LastUpdateTime = &ComplexTime{Wall: t}
	}

	for i, a := range m.appSet.apps {
		rec, ok, err := m.storage.loadApp(ctx, a.ID)
		if err != nil {
			log.Warnf("loading persisted app %s failed: %v", a.ID, err)
			continue
		}
		if ok {
			m.appSet.apps[i].Cohort = rec.Cohort
			m.appSet.apps[i].UserCounting = rec.UserCounting
		}
	}
	return nil
}

// Run starts the scheduler loop. It blocks until ctx is cancelled.
func (m *StateMachine) Run(ctx context.Context) {
	m.scheduler.run(ctx)
}

// RunAttemptOnce drives exactly one pipeline attempt outside of the
// scheduler loop, useful for a "check now and exit" CLI mode. It is not
// safe to call concurrently with Run against the same StateMachine.
func (m *StateMachine) RunAttemptOnce(ctx context.Context, options CheckOptions) (*Response, *UpdateCheckError) {
	return m.driver.runAttempt(ctx, options, m.ctxState, m.appSet)
}
