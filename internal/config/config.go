// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/edgecheck/updatecheck/internal/logger"
	"github.com/edgecheck/updatecheck/internal/utils"

	yaml "gopkg.in/yaml.v3"
)

var log = logger.Logger()

// Omaha holds the wire-protocol identity fields sent with every update
// check request.
type Omaha struct {
	AppID      string `yaml:"appID"`
	Channel    string `yaml:"channel"`
	Platform   string `yaml:"platform"`
	Version    string `yaml:"version"`
	Arch       string `yaml:"arch"`
	CohortHint string `yaml:"cohortHint"`
}

// Blackout describes a maintenance window, expressed as a cron spec plus a
// duration, during which installs and reboots are withheld by policy.
type Blackout struct {
	CronSpec string        `yaml:"cronSpec"`
	Duration time.Duration `yaml:"duration"`
}

type Config struct {
	LogLevel string `yaml:"logLevel"`

	// UpdateServiceURL is the Omaha-style update service endpoint that
	// check requests are POSTed to.
	UpdateServiceURL string `yaml:"updateServiceURL"`

	Omaha Omaha `yaml:"omaha"`

	// StoragePath is the file backing the persisted checker state
	// (last check time, install plan id, consecutive failure counts, ...).
	StoragePath string `yaml:"storagePath"`

	// CheckInterval is the nominal period between update check attempts
	// absent a server-dictated override.
	CheckInterval time.Duration `yaml:"checkInterval"`

	// MinCheckInterval and MaxCheckInterval bound any server-dictated poll
	// interval the update service may return.
	MinCheckInterval time.Duration `yaml:"minCheckInterval"`
	MaxCheckInterval time.Duration `yaml:"maxCheckInterval"`

	// InstallCommand is the whitespace-separated command line invoked to
	// apply a fetched update. It runs as configured; no arguments are added.
	InstallCommand string `yaml:"installCommand"`

	// RebootCommand is the executable invoked to reboot once policy
	// allows it.
	RebootCommand string `yaml:"rebootCommand"`

	// RebootPollInterval controls how often reboot_allowed is re-polled
	// while waiting for a policy-granted reboot window.
	RebootPollInterval time.Duration `yaml:"rebootPollInterval"`

	// Blackouts lists maintenance windows during which installs/reboots
	// are deferred by policy.
	Blackouts []Blackout `yaml:"blackouts"`

	MetricsEndpoint string        `yaml:"metricsEndpoint"`
	MetricsInterval time.Duration `yaml:"metricsInterval"`

	// StatusEndpoint is where the checker periodically reports Ready status.
	// Empty disables status reporting.
	StatusEndpoint string `yaml:"statusEndpoint"`
}

func New(cfgPath string) (*Config, error) {
	log.Infoln("Config path", cfgPath)

	err := utils.IsSymlink(cfgPath)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(cfgPath)
	if err != nil {
		log.Errorf("Loading config failed: %v", err)
		return nil, err
	}

	var config Config
	err = yaml.Unmarshal(content, &config)
	if err != nil {
		log.Errorf("Unmarshaling failed: %v", err)
		return nil, err
	}

	// Set default values for new fields if they are not set in the config file
	config.setDefaults()

	err = config.validate()
	if err != nil {
		log.Errorf("Config validation failed: %v", err)
		return nil, err
	}

	log.Debugf("Loaded configuration: %+v", config)
	return &config, nil
}

func (cfg *Config) setDefaults() {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.StoragePath == "" {
		cfg.StoragePath = "/var/lib/updatecheckd/state.json"
	}

	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 1 * time.Hour
	}

	if cfg.MinCheckInterval == 0 {
		cfg.MinCheckInterval = 5 * time.Minute
	}

	if cfg.MaxCheckInterval == 0 {
		cfg.MaxCheckInterval = 24 * time.Hour
	}

	if cfg.RebootPollInterval == 0 {
		cfg.RebootPollInterval = 30 * time.Minute
	}

	if cfg.MetricsInterval == 0 {
		cfg.MetricsInterval = 1 * time.Minute
	}
}

func (cfg *Config) validate() error {
	if cfg.UpdateServiceURL == "" {
		return fmt.Errorf("updateServiceURL is required")
	}

	if cfg.Omaha.AppID == "" {
		return fmt.Errorf("omaha.appID is required")
	}

	if cfg.InstallCommand == "" {
		return fmt.Errorf("installCommand is required")
	}

	if cfg.RebootCommand == "" {
		return fmt.Errorf("rebootCommand is required")
	}

	if cfg.CheckInterval < 0 {
		return fmt.Errorf("checkInterval cannot be negative")
	}
	if cfg.MinCheckInterval < 0 {
		return fmt.Errorf("minCheckInterval cannot be negative")
	}
	if cfg.MaxCheckInterval < cfg.MinCheckInterval {
		return fmt.Errorf("maxCheckInterval cannot be less than minCheckInterval")
	}
	if cfg.RebootPollInterval <= 0 {
		return fmt.Errorf("rebootPollInterval must be positive")
	}

	for i, b := range cfg.Blackouts {
		if b.CronSpec == "" {
			return fmt.Errorf("blackouts[%d].cronSpec is required", i)
		}
		if b.Duration <= 0 {
			return fmt.Errorf("blackouts[%d].duration must be positive", i)
		}
	}

	return nil
}
