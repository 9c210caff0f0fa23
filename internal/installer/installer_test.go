// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package installer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/edgecheck/updatecheck/internal/installer"
	"github.com/edgecheck/updatecheck/internal/omahaclient"
	"github.com/edgecheck/updatecheck/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeInstaller swaps the real os/exec-backed executor out for one that
// records invocations in-memory, the same substitution the teacher's own
// subsystem-updater tests perform against utils.Executor.
func newFakeInstaller(t *testing.T, installCommand, rebootCommand string, fail bool) (*installer.Installer, *[][]string) {
	t.Helper()
	var intercepted [][]string
	exec := utils.NewExecutor[[]string](
		func(name string, args ...string) *[]string {
			cmd := append([]string{name}, args...)
			intercepted = append(intercepted, cmd)
			return new([]string)
		},
		func(in *[]string) ([]byte, error) {
			if fail {
				return nil, errors.New("boom")
			}
			return []byte("ok"), nil
		},
	)
	i := installer.NewWithExecutor(exec, installCommand, rebootCommand)
	return i, &intercepted
}

func sampleResponse() omahaclient.Response {
	return omahaclient.Response{Apps: []omahaclient.AppResponse{
		{AppID: "app-1", Cohort: omahaclient.Cohort{ID: "stable-1"}},
	}}
}

func TestInstaller_TryCreatePlanIsDeterministicForSameApps(t *testing.T) {
	i, _ := newFakeInstaller(t, "apt upgrade", "reboot", false)

	p1, err := i.TryCreatePlan(context.Background(), omahaclient.RequestParams{}, sampleResponse())
	require.NoError(t, err)
	p2, err := i.TryCreatePlan(context.Background(), omahaclient.RequestParams{}, sampleResponse())
	require.NoError(t, err)

	assert.Equal(t, p1.ID(), p2.ID())
}

func TestInstaller_TryCreatePlanErrorsOnEmptyApps(t *testing.T) {
	i, _ := newFakeInstaller(t, "apt upgrade", "reboot", false)
	_, err := i.TryCreatePlan(context.Background(), omahaclient.RequestParams{}, omahaclient.Response{})
	require.Error(t, err)
}

func TestInstaller_PerformInstallRunsConfiguredCommandAndReportsProgress(t *testing.T) {
	i, intercepted := newFakeInstaller(t, "apt upgrade -y", "reboot", false)
	plan, err := i.TryCreatePlan(context.Background(), omahaclient.RequestParams{}, sampleResponse())
	require.NoError(t, err)

	var progress []float32
	err = i.PerformInstall(context.Background(), plan, func(p float32) { progress = append(progress, p) })
	require.NoError(t, err)

	require.Len(t, *intercepted, 1)
	assert.Equal(t, []string{"apt", "upgrade", "-y"}, (*intercepted)[0])
	assert.Equal(t, []float32{0, 1}, progress)
}

func TestInstaller_PerformInstallPropagatesExecutorFailure(t *testing.T) {
	i, _ := newFakeInstaller(t, "apt upgrade", "reboot", true)
	plan, err := i.TryCreatePlan(context.Background(), omahaclient.RequestParams{}, sampleResponse())
	require.NoError(t, err)

	err = i.PerformInstall(context.Background(), plan, nil)
	require.Error(t, err)
}

func TestInstaller_PerformRebootRunsConfiguredCommand(t *testing.T) {
	i, intercepted := newFakeInstaller(t, "apt upgrade", "shutdown -r now", false)
	require.NoError(t, i.PerformReboot(context.Background()))
	require.Len(t, *intercepted, 1)
	assert.Equal(t, []string{"shutdown", "-r", "now"}, (*intercepted)[0])
}
