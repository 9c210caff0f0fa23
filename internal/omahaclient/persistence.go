// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahaclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgecheck/updatecheck/internal/logger"
)

var log = logger.Logger()

// Well-known persisted keys, see data model §3.
const (
	keyLastCheckTime                 = "last_check_time"
	keyLastUpdateTime                = "last_update_time"
	keyUpdateFirstSeenTime           = "update_first_seen_time"
	keyInstallPlanID                 = "install_plan_id"
	keyConsecutiveFailedUpdateChecks = "consecutive_failed_update_checks"
	keyServerDictatedPollInterval    = "server_dictated_poll_interval"
	appKeyPrefix                     = "app."
)

// appRecord is the structured record persisted under an app's id key.
type appRecord struct {
	Cohort       Cohort       `json:"cohort"`
	UserCounting UserCounting `json:"user_counting"`
}

// persistenceAdapter wraps Storage with typed accessors for the well-known
// keys, translating between microsecond-since-epoch ints and time.Time.
type persistenceAdapter struct {
	storage Storage
}

func newPersistenceAdapter(s Storage) *persistenceAdapter {
	return &persistenceAdapter{storage: s}
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }
func fromMicros(us int64) time.Time {
	return time.UnixMicro(us)
}

func (p *persistenceAdapter) getTime(ctx context.Context, key string) (time.Time, bool, error) {
	us, ok, err := p.storage.GetInt(ctx, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	return fromMicros(us), true, nil
}

func (p *persistenceAdapter) setTime(ctx context.Context, key string, t time.Time) error {
	return p.storage.SetInt(ctx, key, toMicros(t))
}

func (p *persistenceAdapter) lastCheckTime(ctx context.Context) (time.Time, bool, error) {
	return p.getTime(ctx, keyLastCheckTime)
}

func (p *persistenceAdapter) setLastCheckTime(ctx context.Context, t time.Time) error {
	return p.setTime(ctx, keyLastCheckTime, t)
}

func (p *persistenceAdapter) setLastUpdateTime(ctx context.Context, t time.Time) error {
	return p.setTime(ctx, keyLastUpdateTime, t)
}

func (p *persistenceAdapter) consecutiveFailedUpdateChecks(ctx context.Context) (int64, error) {
	v, ok, err := p.storage.GetInt(ctx, keyConsecutiveFailedUpdateChecks)
	if err != nil || !ok {
		return 0, err
	}
	return v, nil
}

func (p *persistenceAdapter) setConsecutiveFailedUpdateChecks(ctx context.Context, v int64) error {
	if v == 0 {
		return p.storage.Remove(ctx, keyConsecutiveFailedUpdateChecks)
	}
	return p.storage.SetInt(ctx, keyConsecutiveFailedUpdateChecks, v)
}

func (p *persistenceAdapter) setServerDictatedPollInterval(ctx context.Context, d *time.Duration) error {
	if d == nil {
		return p.storage.Remove(ctx, keyServerDictatedPollInterval)
	}
	return p.storage.SetInt(ctx, keyServerDictatedPollInterval, d.Microseconds())
}

func (p *persistenceAdapter) serverDictatedPollInterval(ctx context.Context) (*time.Duration, error) {
	us, ok, err := p.storage.GetInt(ctx, keyServerDictatedPollInterval)
	if err != nil || !ok {
		return nil, err
	}
	d := time.Duration(us) * time.Microsecond
	return &d, nil
}

func (p *persistenceAdapter) commit(ctx context.Context) error {
	return p.storage.Commit(ctx)
}

// persistApp stores the cohort/user-counting record for one app.
func (p *persistenceAdapter) persistApp(ctx context.Context, app App) error {
	rec := appRecord{Cohort: app.Cohort, UserCounting: app.UserCounting}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.storage.SetString(ctx, appKeyPrefix+app.ID, string(b))
}

// loadApp reads back the persisted cohort/user-counting record for an app
// id, if any.
func (p *persistenceAdapter) loadApp(ctx context.Context, appID string) (appRecord, bool, error) {
	s, ok, err := p.storage.GetString(ctx, appKeyPrefix+appID)
	if err != nil || !ok {
		return appRecord{}, ok, err
	}
	var rec appRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return appRecord{}, false, err
	}
	return rec, true, nil
}

// recordUpdateFirstSeenTime implements §4.5: on first observation of a
// given install_plan_id, records (id, now) and returns now. On subsequent
// observations with the same id, returns the stored first-seen time. On a
// different id, overwrites both keys, with a best-effort rollback of
// install_plan_id if the second write fails.
func (p *persistenceAdapter) recordUpdateFirstSeenTime(ctx context.Context, planID string, now time.Time) time.Time {
	storedID, haveID, err := p.storage.GetString(ctx, keyInstallPlanID)
	if err != nil {
		log.Warnf("reading install_plan_id failed: %v", err)
	}

	if haveID && storedID == planID {
		if seen, ok, err := p.getTime(ctx, keyUpdateFirstSeenTime); err == nil && ok {
			return seen
		}
		// Fall through: id matches but we have no recorded time yet.
	}

	if err := p.storage.SetString(ctx, keyInstallPlanID, planID); err != nil {
		log.Warnf("persisting install_plan_id failed: %v", err)
		return now
	}
	if err := p.setTime(ctx, keyUpdateFirstSeenTime, now); err != nil {
		log.Warnf("persisting update_first_seen_time failed: %v", err)
		if haveID {
			if rollbackErr := p.storage.SetString(ctx, keyInstallPlanID, storedID); rollbackErr != nil {
				log.Warnf("rolling back install_plan_id failed: %v", rollbackErr)
			}
		} else if rollbackErr := p.storage.Remove(ctx, keyInstallPlanID); rollbackErr != nil {
			log.Warnf("rolling back install_plan_id failed: %v", rollbackErr)
		}
		return now
	}

	if err := p.commit(ctx); err != nil {
		log.Warnf("commit after first-seen-time update failed: %v", err)
	}
	return now
}
