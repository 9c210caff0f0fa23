// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package installer is the reference Installer: it shells out to an
// operator-configured install command and reboot command, in the same
// os/exec style the teacher uses for its own subsystem updaters.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/edgecheck/updatecheck/internal/logger"
	"github.com/edgecheck/updatecheck/internal/omahaclient"
	"github.com/edgecheck/updatecheck/internal/utils"
)

var log = logger.Logger()

// Plan is the InstallPlan this Installer produces: an identity derived
// deterministically from the set of (app id, cohort) pairs the update
// service reported, so that repeated attempts against the same pending
// update resolve to the same plan id and the first-seen-time bookkeeping in
// §4.5 sees it as unchanged.
type Plan struct {
	id   string
	apps []omahaclient.AppResponse
}

func (p *Plan) ID() string { return p.id }

func planID(apps []omahaclient.AppResponse) string {
	keys := make([]string, len(apps))
	for i, a := range apps {
		keys[i] = a.AppID + ":" + a.Cohort.ID
	}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(strings.Join(keys, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// Installer runs installCommand to perform an update and rebootCommand to
// restart the host, both via utils.Executor, matching how the teacher's
// SubsystemUpdater shells out to apt/inbc.
type Installer struct {
	executor       utils.Executor
	installCommand []string
	rebootCommand  []string
}

// New builds an Installer from whitespace-separated install and reboot
// command lines.
func New(installCommand, rebootCommand string) *Installer {
	return NewWithExecutor(utils.NewExecutor(exec.Command, utils.ExecuteAndReadOutput), installCommand, rebootCommand)
}

// NewWithExecutor builds an Installer around a caller-supplied utils.Executor,
// letting tests substitute a fake in place of the real os/exec one.
func NewWithExecutor(executor utils.Executor, installCommand, rebootCommand string) *Installer {
	return &Installer{
		executor:       executor,
		installCommand: strings.Fields(installCommand),
		rebootCommand:  strings.Fields(rebootCommand),
	}
}

// TryCreatePlan synthesizes a Plan from every app in the update service's
// response. Params is unused by this
// reference implementation; it is accepted to satisfy the Installer
// interface and is available to richer implementations that vary the plan
// by proxy configuration or source.
func (i *Installer) TryCreatePlan(ctx context.Context, params omahaclient.RequestParams, resp omahaclient.Response) (omahaclient.InstallPlan, error) {
	if len(resp.Apps) == 0 {
		return nil, fmt.Errorf("cannot build an install plan from a response with no apps")
	}
	return &Plan{id: planID(resp.Apps), apps: resp.Apps}, nil
}

// PerformInstall runs the configured install command to completion. The
// reference implementation has no incremental progress to report, so it
// reports 0 on start and 1 on success, mirroring a coarse-grained
// subsystem updater rather than a byte-level download progress bar.
func (i *Installer) PerformInstall(ctx context.Context, plan omahaclient.InstallPlan, observer omahaclient.ProgressObserver) error {
	if observer != nil {
		observer(0)
	}
	if len(i.installCommand) == 0 {
		return fmt.Errorf("no install command configured")
	}

	out, err := i.executor.Execute(i.installCommand)
	if err != nil {
		log.Errorf("install command failed for plan %s: %v (output: %s)", plan.ID(), err, string(out))
		return err
	}
	log.Infof("install command for plan %s succeeded", plan.ID())
	if observer != nil {
		observer(1)
	}
	return nil
}

// PerformReboot runs the configured reboot command. A graceful reboot is
// expected to terminate this process; the error return exists for the case
// where the command itself fails to launch.
func (i *Installer) PerformReboot(ctx context.Context) error {
	if len(i.rebootCommand) == 0 {
		return fmt.Errorf("no reboot command configured")
	}
	out, err := i.executor.Execute(i.rebootCommand)
	if err != nil {
		log.Errorf("reboot command failed: %v (output: %s)", err, string(out))
		return err
	}
	return nil
}
