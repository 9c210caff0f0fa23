// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/edgecheck/updatecheck/info"
	"github.com/edgecheck/updatecheck/internal/config"
	"github.com/edgecheck/updatecheck/internal/installer"
	"github.com/edgecheck/updatecheck/internal/logger"
	"github.com/edgecheck/updatecheck/internal/metricsreporter"
	"github.com/edgecheck/updatecheck/internal/omahaclient"
	"github.com/edgecheck/updatecheck/internal/omahahttp"
	"github.com/edgecheck/updatecheck/internal/policy"
	"github.com/edgecheck/updatecheck/internal/storagefile"
	"github.com/open-edge-platform/edge-node-agents/common/pkg/metrics"
	"github.com/open-edge-platform/edge-node-agents/common/pkg/status"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const agentName = "updatecheckd"

var log = logger.Logger()

func init() {
	flag.String("config", "", "Config file path")
}

func main() {
	log.Infof("Args: %v", os.Args[1:])
	log.Infof("Starting %s - %s", info.Component, info.Version)

	flag.Parse()
	cfg, err := config.New(flag.Lookup("config").Value.String())
	if err != nil {
		log.Fatalf("unable to initialize configuration: %v", err)
	}
	setLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infof("received signal: %v; shutting down", sig)
		cancel()
	}()

	if shutdown, err := metrics.Init(ctx, cfg.MetricsEndpoint, cfg.MetricsInterval, info.Component, info.Version); err != nil {
		log.Errorf("metrics initialization failed: %v", err)
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("shutting down metrics failed: %v", err)
			}
		}()
	}

	metricsReporter, err := metricsreporter.New()
	if err != nil {
		log.Fatalf("unable to initialize metrics reporter: %v", err)
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

	builder := omahahttp.NewBuilder(cfg.Omaha.Platform, cfg.Omaha.Version, cfg.Omaha.Arch, cfg.Omaha.Channel)
	parser := omahahttp.NewParser()
	httpClient := omahahttp.NewClient(30 * time.Second)
	install := installer.New(cfg.InstallCommand, cfg.RebootCommand)

	sm := omahaclient.New(omahaclient.Config{
		ServiceURL: cfg.UpdateServiceURL,
		Apps:       []omahaclient.App{singleApp(cfg)},
		Policy:     policyEngine,
		Builder:    builder,
		Parser:     parser,
		HTTPClient: httpClient,
		Installer:  install,
		Storage:    store,
		Metrics:    metricsReporter,
		TimeSource: omahaclient.NewSystemTimeSource(),

		RebootPollInterval: cfg.RebootPollInterval,
	})

	if err := sm.Init(ctx); err != nil {
		log.Fatalf("unable to hydrate persisted state: %v", err)
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sm.Run(ctx)
	}()

	wg.Add(1)
	go sendHealthStatus(wg, ctx, cfg.StatusEndpoint)

	wg.Wait()
	log.Info("exiting updatecheckd")
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

func setLogLevel(logLevel string) {
	switch strings.ToLower(logLevel) {
	case "debug":
		log.Logger.SetLevel(logrus.DebugLevel)
	case "warn":
		log.Logger.SetLevel(logrus.WarnLevel)
	case "error":
		log.Logger.SetLevel(logrus.ErrorLevel)
	default:
		log.Logger.SetLevel(logrus.InfoLevel)
	}
}

func sendHealthStatus(wg *sync.WaitGroup, ctx context.Context, statusServerEndpoint string) {
	defer wg.Done()
	if statusServerEndpoint == "" {
		return
	}
	statusClient, err := status.InitClient(statusServerEndpoint)
	if err != nil {
		log.Errorf("unable to initialize status client: %v", err)
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := statusClient.SendStatusReady(ctx, agentName); err != nil {
				log.Errorf("failed to send status ready: %v", err)
			}
		}
	}
}
