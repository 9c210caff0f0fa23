// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahaclient

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Omaha event types/error codes reported back to the update service,
// mirroring the protocol's own vocabulary (see §7, §9).
const (
	omahaEventUpdateComplete       = "UpdateComplete"
	omahaEventUpdateDownloadStart  = "UpdateDownloadStarted"
	omahaEventUpdateDownloadFinish = "UpdateDownloadFinished"

	omahaErrorcodeParseResponse      = "ParseResponse"
	omahaErrorcodeConstructInstall   = "ConstructInstallPlan"
	omahaErrorcodeDeniedByPolicy     = "DeniedByPolicy"
	omahaErrorcodeUpdateDeferred     = "UpdateDeferred"
	omahaErrorcodeInstallationFailed = "Installation"
)

// pipelineDriver executes one check-attempt end to end: policy gates,
// request/retry, parse, install, event reporting, and reboot. See §4.2.
type pipelineDriver struct {
	serviceURL string
	policy     PolicyEngine
	builder    RequestBuilder
	parser     ResponseParser
	requester  *retryingRequester
	installer  Installer
	storage    *persistenceAdapter
	metrics    MetricsReporter
	events     *EventBus
	ts         TimeSource

	rebootPollInterval time.Duration
}

func (d *pipelineDriver) reportMetric(ctx context.Context, m Metric) {
	if d.metrics == nil {
		return
	}
	if err := d.metrics.ReportMetrics(ctx, m); err != nil {
		log.Warnf("reporting metric %d failed: %v", m.Name, err)
	}
}

// reportOmahaEvent sends a best-effort event to the update service; failures
// are logged, never propagated (§7 "Surfacing").
func (d *pipelineDriver) reportOmahaEvent(ctx context.Context, appID, eventType, errorcode string) {
	d.builder.Reset()
	d.builder.AddEvent(appID, eventType, errorcode)
	body, err := d.builder.Build(RequestParams{})
	if err != nil {
		log.Warnf("building best-effort event %s/%s failed: %v", eventType, errorcode, err)
		return
	}
	if _, _, _, reqErr := d.requester.do(ctx, d.serviceURL, body); reqErr != nil {
		log.Warnf("sending best-effort event %s/%s failed: %v", eventType, errorcode, reqErr)
	}
}

// runAttempt is the public operation of §4.2: it gates, requests, parses,
// installs, reports, and reboots, mutating ctxState and appSet in place and
// emitting the ordered event stream throughout.
func (d *pipelineDriver) runAttempt(ctx context.Context, options CheckOptions, ctxState *Context, appSet *AppSet) (*Response, *UpdateCheckError) {
	apps := appSet.ToSlice()

	// P1: policy gate (check-allowed).
	decision, err := d.policy.UpdateCheckAllowed(ctx, apps, ctxState.Schedule, ctxState.ProtocolState, options)
	if err != nil {
		log.Errorf("policy check-allowed failed: %v", err)
		return d.finishFailure(ctx, ctxState, newPolicyError(CheckDecision{Kind: CheckDeniedByPolicy}))
	}
	if !decision.Allowed() {
		return d.finishFailure(ctx, ctxState, newPolicyError(decision))
	}

	// P2: enter CheckingForUpdates; record check interval.
	d.events.emitStateChange(ctx, CheckingForUpdates)
	d.reportCheckInterval(ctx)

	// P3: build & send request with retry.
	d.builder.Reset()
	for _, a := range apps {
		d.builder.AddUpdateCheck(a)
		d.builder.AddPing(a)
	}
	body, buildErr := d.builder.Build(decision.Params)
	if buildErr != nil {
		reqErr := &OmahaRequestError{Kind: OmahaErrJSON, Err: buildErr}
		d.events.emitStateChange(ctx, ErrorCheckingForUpdate)
		return d.finishFailure(ctx, ctxState, newOmahaRequestError(reqErr))
	}

	result, attempts, elapsed, reqErr := d.requester.do(ctx, d.serviceURL, body)
	if reqErr != nil {
		d.events.emitStateChange(ctx, ErrorCheckingForUpdate)
		return d.finishFailure(ctx, ctxState, newOmahaRequestError(reqErr))
	}
	d.reportMetric(ctx, Metric{Name: MetricUpdateCheckResponseTime, Dur: elapsed})
	d.reportMetric(ctx, Metric{Name: MetricUpdateCheckRetries, Int: int64(attempts)})

	// P4: parse response.
	parsed, parseErr := d.parser.ParseJSONResponse(result.body)
	if parseErr != nil {
		d.events.emitStateChange(ctx, ErrorCheckingForUpdate)
		d.reportOmahaEvent(ctx, "", omahaEventUpdateComplete, omahaErrorcodeParseResponse)
		ctxState.Schedule.LastUpdateTime = complexTimePtr(d.ts.Now())
		return d.finishFailure(ctx, ctxState, newResponseParserError(parseErr))
	}
	resp := parsed.Response

	// P5: decide update vs no-update.
	d.events.emitOmahaServerResponse(ctx, resp)
	if !parsed.AnyUpdateAvailable {
		d.events.emitStateChange(ctx, NoUpdateAvailable)
		for i := range resp.Apps {
			resp.Apps[i].Result = NoUpdate
		}
		return d.finishSuccess(ctx, ctxState, appSet, &resp)
	}

	// P6: construct install plan.
	plan, planErr := d.installer.TryCreatePlan(ctx, decision.Params, resp)
	if planErr != nil {
		d.events.emitStateChange(ctx, InstallingUpdate)
		d.events.emitStateChange(ctx, InstallationError)
		d.reportOmahaEvent(ctx, "", omahaEventUpdateComplete, omahaErrorcodeConstructInstall)
		return d.finishFailure(ctx, ctxState, newInstallPlanError(planErr))
	}

	// P7: policy gate (install-allowed).
	updateDecision, udErr := d.policy.UpdateCanStart(ctx, plan)
	if udErr != nil {
		log.Errorf("policy install-allowed failed: %v", udErr)
		updateDecision = UpdateDeniedByPolicy
	}
	switch updateDecision {
	case UpdateDeferredByPolicy:
		d.reportOmahaEvent(ctx, "", omahaEventUpdateComplete, omahaErrorcodeUpdateDeferred)
		d.events.emitStateChange(ctx, InstallationDeferredByPolicy)
		for i := range resp.Apps {
			resp.Apps[i].Result = DeferredByPolicy
		}
		return d.finishSuccess(ctx, ctxState, appSet, &resp)
	case UpdateDeniedByPolicy:
		d.events.emitStateChange(ctx, InstallingUpdate)
		d.events.emitStateChange(ctx, InstallationError)
		d.reportOmahaEvent(ctx, "", omahaEventUpdateComplete, omahaErrorcodeDeniedByPolicy)
		for i := range resp.Apps {
			resp.Apps[i].Result = DeniedByPolicy
		}
		return d.finishSuccess(ctx, ctxState, appSet, &resp)
	}

	// P8: install.
	d.events.emitStateChange(ctx, InstallingUpdate)
	d.reportOmahaEvent(ctx, "", omahaEventUpdateDownloadStart, "")

	firstSeen := d.storage.recordUpdateFirstSeenTime(ctx, plan.ID(), d.ts.Now().Wall)

	installStart := d.ts.Now()
	installErr := d.installer.PerformInstall(ctx, plan, func(progress float32) {
		d.events.emitInstallProgress(ctx, progress)
	})
	if installErr != nil {
		d.reportOmahaEvent(ctx, "", omahaEventUpdateComplete, omahaErrorcodeInstallationFailed)
		d.reportMetric(ctx, Metric{Name: MetricFailedUpdateDuration, Dur: d.ts.Now().Wall.Sub(installStart.Wall)})
		for i := range resp.Apps {
			resp.Apps[i].Result = InstallPlanExecutionError
		}
		return d.finishSuccess(ctx, ctxState, appSet, &resp)
	}

	d.reportOmahaEvent(ctx, "", omahaEventUpdateDownloadFinish, "")
	d.reportOmahaEvent(ctx, "", omahaEventUpdateComplete, "")
	now := d.ts.Now().Wall
	d.reportMetric(ctx, Metric{Name: MetricSuccessfulUpdateDuration, Dur: now.Sub(installStart.Wall)})
	d.reportMetric(ctx, Metric{Name: MetricSuccessfulUpdateFromFirstSeen, Dur: now.Sub(firstSeen)})
	d.events.emitStateChange(ctx, WaitingForReboot)
	for i := range resp.Apps {
		resp.Apps[i].Result = Updated
	}

	return d.finishSuccessWaitingReboot(ctx, ctxState, appSet, &resp, options)
}

// complexTimePtr is a tiny helper so call sites can take the address of a
// ComplexTime literal inline.
func complexTimePtr(t ComplexTime) *ComplexTime { return &t }

// reportCheckInterval implements the §4.2 P2 bookkeeping: read the
// persisted last_check_time, report the interval since then if present,
// then overwrite and commit (best-effort).
func (d *pipelineDriver) reportCheckInterval(ctx context.Context) {
	now := d.ts.Now().Wall
	last, ok, err := d.storage.lastCheckTime(ctx)
	if err != nil {
		log.Warnf("reading last_check_time failed: %v", err)
	} else if ok && !last.After(now) {
		d.reportMetric(ctx, Metric{Name: MetricUpdateCheckInterval, Dur: now.Sub(last)})
	}

	if err := d.storage.setLastCheckTime(ctx, now); err != nil {
		log.Warnf("persisting last_check_time failed: %v", err)
		return
	}
	if err := d.storage.commit(ctx); err != nil {
		log.Warnf("commit after last_check_time update failed: %v", err)
	}
}

// reportAttemptsToSucceed implements §4.2 P9's AttemptsToSucceed handling:
// it derives the count from the same consecutive_failed_update_checks key
// that StateMachine.Init hydrates ProtocolState from, rather than a parallel
// key. On success it
// reports stored+1 then zeroes the key; on failure it persists stored+1
// without reporting. Callers are responsible for committing afterward.
func (d *pipelineDriver) reportAttemptsToSucceed(ctx context.Context, success bool) {
	stored, err := d.storage.consecutiveFailedUpdateChecks(ctx)
	if err != nil {
		log.Warnf("reading consecutive_failed_update_checks failed: %v", err)
	}
	attempts := stored + 1
	if success {
		d.reportMetric(ctx, Metric{Name: MetricAttemptsToSucceed, Int: attempts})
		if err := d.storage.setConsecutiveFailedUpdateChecks(ctx, 0); err != nil {
			log.Warnf("persisting consecutive_failed_update_checks failed: %v", err)
		}
		return
	}
	if err := d.storage.setConsecutiveFailedUpdateChecks(ctx, attempts); err != nil {
		log.Warnf("persisting consecutive_failed_update_checks failed: %v", err)
	}
}

// finishFailure applies the on-failure half of P9's bookkeeping, emits the
// end-of-attempt triplet, persists, and returns to Idle.
func (d *pipelineDriver) finishFailure(ctx context.Context, ctxState *Context, ucErr *UpdateCheckError) (*Response, *UpdateCheckError) {
	if ucErr.FailureReason() == FailureOmaha {
		ctxState.Schedule.LastUpdateTime = complexTimePtr(d.ts.Now())
	}
	ctxState.ProtocolState.ConsecutiveFailedUpdateChecks++
	d.reportMetric(ctx, Metric{Name: MetricUpdateCheckFailureReason, Reason: ucErr.FailureReason()})
	d.reportAttemptsToSucceed(ctx, false)

	d.events.emitScheduleChange(ctx, ctxState.Schedule)
	d.events.emitProtocolStateChange(ctx, ctxState.ProtocolState)
	d.events.emitUpdateCheckResult(ctx, nil, ucErr)

	if err := d.storage.commit(ctx); err != nil {
		log.Warnf("commit at attempt end failed: %v", err)
	}

	d.events.emitStateChange(ctx, Idle)
	return nil, ucErr
}

// finishSuccess applies the on-success half of P9's bookkeeping (without a
// reboot wait) and returns to Idle.
func (d *pipelineDriver) finishSuccess(ctx context.Context, ctxState *Context, appSet *AppSet, resp *Response) (*Response, *UpdateCheckError) {
	d.bookkeepSuccess(ctx, ctxState, appSet, resp)
	d.events.emitStateChange(ctx, Idle)
	return resp, nil
}

// finishSuccessWaitingReboot applies the on-success bookkeeping, then loops
// waiting for reboot permission (§4.2 P10) before returning to Idle.
func (d *pipelineDriver) finishSuccessWaitingReboot(ctx context.Context, ctxState *Context, appSet *AppSet, resp *Response, options CheckOptions) (*Response, *UpdateCheckError) {
	d.bookkeepSuccess(ctx, ctxState, appSet, resp)

	pollErr := wait.PollUntilContextCancel(ctx, d.rebootPollInterval, true, func(ctx context.Context) (bool, error) {
		allowed, err := d.policy.RebootAllowed(ctx, options)
		if err != nil {
			log.Warnf("policy reboot-allowed failed: %v", err)
			return false, nil
		}
		return allowed, nil
	})
	if pollErr != nil {
		// Cancellation: abandon the reboot wait; caller is shutting down.
		return resp, nil
	}

	if err := d.installer.PerformReboot(ctx); err != nil {
		log.Errorf("perform_reboot failed: %v", err)
	}

	d.events.emitStateChange(ctx, Idle)
	return resp, nil
}

func (d *pipelineDriver) bookkeepSuccess(ctx context.Context, ctxState *Context, appSet *AppSet, resp *Response) {
	now := d.ts.Now()
	ctxState.Schedule.LastUpdateTime = complexTimePtr(now)

	if resp.ServerDictatedPollSecs != nil {
		dur := time.Duration(*resp.ServerDictatedPollSecs) * time.Second
		ctxState.ProtocolState.ServerDictatedPollInterval = &dur
	}

	anyInstallFailure := false
	for _, ar := range resp.Apps {
		if ar.Result == InstallPlanExecutionError {
			anyInstallFailure = true
			break
		}
	}
	if anyInstallFailure {
		ctxState.ProtocolState.ConsecutiveFailedUpdateAttempts++
	} else {
		ctxState.ProtocolState.ConsecutiveFailedUpdateAttempts = 0
	}
	ctxState.ProtocolState.ConsecutiveFailedUpdateChecks = 0

	appSet.UpdateFromOmaha(resp)
	d.reportAttemptsToSucceed(ctx, true)

	d.events.emitScheduleChange(ctx, ctxState.Schedule)
	d.events.emitProtocolStateChange(ctx, ctxState.ProtocolState)
	d.events.emitUpdateCheckResult(ctx, resp, nil)

	if err := d.storage.setLastUpdateTime(ctx, now.Wall); err != nil {
		log.Warnf("persisting last_update_time failed: %v", err)
	}
	if err := d.storage.setServerDictatedPollInterval(ctx, ctxState.ProtocolState.ServerDictatedPollInterval); err != nil {
		log.Warnf("persisting server_dictated_poll_interval failed: %v", err)
	}
	for _, a := range appSet.ToSlice() {
		if err := d.storage.persistApp(ctx, a); err != nil {
			log.Warnf("persisting app %s failed: %v", a.ID, err)
		}
	}
	if err := d.storage.commit(ctx); err != nil {
		log.Warnf("commit at attempt end failed: %v", err)
	}
}
