// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Command checkctl drives a single on-demand update-check attempt against
// the configured update service and prints its progress, for operators who
// want to force a check outside of updatecheckd's normal schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edgecheck/updatecheck/internal/config"
	"github.com/edgecheck/updatecheck/internal/installer"
	"github.com/edgecheck/updatecheck/internal/logger"
	"github.com/edgecheck/updatecheck/internal/omahaclient"
	"github.com/edgecheck/updatecheck/internal/omahahttp"
	"github.com/edgecheck/updatecheck/internal/policy"
	"github.com/edgecheck/updatecheck/internal/storagefile"
	"github.com/mendersoftware/progressbar"
	"github.com/spf13/afero"
)

var log = logger.Logger()

func init() {
	flag.String("config", "", "Config file path")
}

func main() {
	flag.Parse()
	cfg, err := config.New(flag.Lookup("config").Value.String())
	if err != nil {
		log.Fatalf("unable to initialize configuration: %v", err)
	}

	store, err := storagefile.New(afero.NewOsFs(), cfg.StoragePath)
	if err != nil {
		log.Fatalf("unable to open storage file %s: %v", cfg.StoragePath, err)
	}

	blackouts := make([]policy.Blackout, len(cfg.Blackouts))
	for i, b := range cfg.Blackouts {
		blackouts[i] = policy.Blackout{CronSpec: b.CronSpec, Duration: b.Duration}
	}
	policyEngine, err := policy.New(cfg.CheckInterval, cfg.MinCheckInterval, cfg.MaxCheckInterval, blackouts)
	if err != nil {
		log.Fatalf("unable to initialize policy engine: %v", err)
	}

	sm := omahaclient.New(omahaclient.Config{
		ServiceURL: cfg.UpdateServiceURL,
		Apps:       []omahaclient.App{singleApp(cfg)},
		Policy:     policyEngine,
		Builder:    omahahttp.NewBuilder(cfg.Omaha.Platform, cfg.Omaha.Version, cfg.Omaha.Arch, cfg.Omaha.Channel),
		Parser:     omahahttp.NewParser(),
		HTTPClient: omahahttp.NewClient(30 * time.Second),
		Installer:  installer.New(cfg.InstallCommand, cfg.RebootCommand),
		Storage:    store,
		TimeSource: omahaclient.NewSystemTimeSource(),
	})

	ctx := context.Background()
	if err := sm.Init(ctx); err != nil {
		log.Fatalf("unable to hydrate persisted state: %v", err)
	}

	bar := progressbar.New(100)
	var lastTick int64
	sm.Subscribe(omahaclient.FuncObserver(func(ctx context.Context, ev omahaclient.StateMachineEvent) {
		switch ev.Kind {
		case omahaclient.EventStateChange:
			fmt.Fprintf(os.Stderr, "state: %s\n", ev.State)
		case omahaclient.EventInstallProgressChange:
			target := int64(ev.InstallProgress * 100)
			if target > lastTick {
				bar.Tick(target - lastTick)
				lastTick = target
			}
		}
	}))

	resp, ucErr := sm.RunAttemptOnce(ctx, omahaclient.CheckOptions{Source: omahaclient.OnDemand})
	if ucErr != nil {
		log.Fatalf("update check failed: %v", ucErr)
	}
	bar.Finish()

	for _, app := range resp.Apps {
		fmt.Printf("%s: %s\n", app.AppID, app.Result)
	}
}

func singleApp(cfg *config.Config) omahaclient.App {
	return omahaclient.App{
		ID:      cfg.Omaha.AppID,
		Version: parseVersion(cfg.Omaha.Version),
		Cohort:  omahaclient.Cohort{Hint: cfg.Omaha.CohortHint},
	}
}

func parseVersion(v string) []uint32 {
	parts := strings.Split(v, ".")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}
