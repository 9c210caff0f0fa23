// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package omahahttp is the reference wire layer for the update-check client:
// a JSON request builder, response parser, and HTTP transport, grounded on
// the Omaha-family protocol described by the update service.
package omahahttp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edgecheck/updatecheck/internal/omahaclient"
	"github.com/google/uuid"
)

// wireRequest is the top-level JSON request body.
type wireRequest struct {
	RequestID            string    `json:"requestid"`
	Protocol             string    `json:"protocol"`
	Version              string    `json:"version"`
	Platform             string    `json:"platform"`
	Arch                 string    `json:"arch"`
	Channel              string    `json:"channel,omitempty"`
	Source               string    `json:"source"`
	UseConfiguredProxies bool      `json:"useconfiguredproxies"`
	Apps                 []wireApp `json:"apps"`
}

type wireApp struct {
	AppID        string               `json:"appid"`
	Version      string               `json:"version"`
	Cohort       string               `json:"cohort,omitempty"`
	CohortHint   string               `json:"cohorthint,omitempty"`
	CohortName   string               `json:"cohortname,omitempty"`
	UserCounting *wireUserCounting    `json:"usercounting,omitempty"`
	UpdateCheck  *struct{}            `json:"updatecheck,omitempty"`
	Ping         *struct{}            `json:"ping,omitempty"`
	Event        []wireEvent          `json:"event,omitempty"`
}

type wireUserCounting struct {
	ClientRegulatedByDate *int32 `json:"clientregulatedbydate,omitempty"`
}

type wireEvent struct {
	EventType string `json:"eventtype"`
	ErrorCode string `json:"errorcode,omitempty"`
}

// Builder accumulates per-app updatecheck/ping/event entries into a single
// Omaha-style request, keyed by app id so that multiple AddUpdateCheck /
// AddPing / AddEvent calls for the same app fold into one <app> element.
type Builder struct {
	platform string
	version  string
	arch     string
	channel  string

	order   []string
	appsByID map[string]*wireApp
}

// NewBuilder constructs a Builder carrying the client identity fields that
// are constant across every request.
func NewBuilder(platform, version, arch, channel string) *Builder {
	b := &Builder{platform: platform, version: version, arch: arch, channel: channel}
	b.Reset()
	return b
}

// Reset discards any accumulated app entries.
func (b *Builder) Reset() {
	b.order = nil
	b.appsByID = make(map[string]*wireApp)
}

func (b *Builder) entry(appID string) *wireApp {
	if a, ok := b.appsByID[appID]; ok {
		return a
	}
	a := &wireApp{AppID: appID}
	b.appsByID[appID] = a
	b.order = append(b.order, appID)
	return a
}

func versionString(v []uint32) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ".")
}

// AddUpdateCheck marks app as wanting an update-check element in the
// outgoing request, carrying its current cohort/version.
func (b *Builder) AddUpdateCheck(app omahaclient.App) {
	a := b.entry(app.ID)
	a.Version = versionString(app.Version)
	a.Cohort = app.Cohort.ID
	a.CohortHint = app.Cohort.Hint
	a.CohortName = app.Cohort.Name
	if app.UserCounting.ClientRegulatedByDate != nil {
		a.UserCounting = &wireUserCounting{ClientRegulatedByDate: app.UserCounting.ClientRegulatedByDate}
	}
	a.UpdateCheck = &struct{}{}
}

// AddPing marks app as wanting a ping element.
func (b *Builder) AddPing(app omahaclient.App) {
	a := b.entry(app.ID)
	if a.Version == "" {
		a.Version = versionString(app.Version)
	}
	a.Ping = &struct{}{}
}

// AddEvent appends a best-effort event element for appID. An empty appID
// files the event under a placeholder app element with appid "_".
func (b *Builder) AddEvent(appID string, eventType string, errorCode string) {
	id := appID
	if id == "" {
		id = "_"
	}
	a := b.entry(id)
	a.Event = append(a.Event, wireEvent{EventType: eventType, ErrorCode: errorCode})
}

// Build serializes the accumulated entries into a JSON request body under
// the parameters the policy gate authorized.
func (b *Builder) Build(params omahaclient.RequestParams) ([]byte, error) {
	req := wireRequest{
		RequestID:            uuid.NewString(),
		Protocol:             "3.0",
		Version:              b.version,
		Platform:             b.platform,
		Arch:                 b.arch,
		Channel:              b.channel,
		Source:               params.Source.String(),
		UseConfiguredProxies: params.UseConfiguredProxies,
	}
	for _, id := range b.order {
		req.Apps = append(req.Apps, *b.appsByID[id])
	}
	return json.Marshal(req)
}
