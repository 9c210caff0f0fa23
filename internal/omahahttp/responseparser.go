// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahahttp

import (
	"encoding/json"
	"fmt"

	"github.com/edgecheck/updatecheck/internal/omahaclient"
)

type wireResponseEnvelope struct {
	Response wireResponse `json:"response"`
}

type wireResponse struct {
	Apps     []wireAppResponse `json:"apps"`
	DayStart *struct {
		ElapsedSeconds *int64 `json:"elapsed_seconds,omitempty"`
	} `json:"daystart,omitempty"`
}

type wireAppResponse struct {
	AppID       string                  `json:"appid"`
	Cohort      string                  `json:"cohort,omitempty"`
	CohortHint  string                  `json:"cohorthint,omitempty"`
	CohortName  string                  `json:"cohortname,omitempty"`
	UserCounting *wireUserCounting      `json:"usercounting,omitempty"`
	UpdateCheck *wireUpdateCheckStatus  `json:"updatecheck,omitempty"`
}

type wireUpdateCheckStatus struct {
	Status          string `json:"status"`
	PollIntervalSec *int64 `json:"pollintervalsec,omitempty"`
}

// Parser is the reference ResponseParser, decoding the JSON counterpart of
// the request Builder produces.
type Parser struct{}

// NewParser constructs a Parser. It carries no state.
func NewParser() *Parser { return &Parser{} }

// ParseJSONResponse decodes body into a ParsedResponse. An app element whose
// updatecheck status is "ok" sets AnyUpdateAvailable. Cohort/user-counting
// are copied through verbatim; per-app Result is left at its zero value
// (NoUpdate) for the pipeline to overwrite once it decides the outcome.
func (p *Parser) ParseJSONResponse(body []byte) (omahaclient.ParsedResponse, error) {
	var env wireResponseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return omahaclient.ParsedResponse{}, fmt.Errorf("decoding update service response: %w", err)
	}

	out := omahaclient.ParsedResponse{}
	var pollSecs *int64
	if env.Response.DayStart != nil {
		pollSecs = env.Response.DayStart.ElapsedSeconds
	}

	for _, wa := range env.Response.Apps {
		ar := omahaclient.AppResponse{
			AppID: wa.AppID,
			Cohort: omahaclient.Cohort{
				ID:   wa.Cohort,
				Hint: wa.CohortHint,
				Name: wa.CohortName,
			},
		}
		if wa.UserCounting != nil {
			ar.UserCounting = omahaclient.UserCounting{ClientRegulatedByDate: wa.UserCounting.ClientRegulatedByDate}
		}
		if wa.UpdateCheck != nil {
			if wa.UpdateCheck.Status == "ok" {
				out.AnyUpdateAvailable = true
			}
			if wa.UpdateCheck.PollIntervalSec != nil {
				pollSecs = wa.UpdateCheck.PollIntervalSec
			}
		}
		out.Response.Apps = append(out.Response.Apps, ar)
	}
	out.Response.ServerDictatedPollSecs = pollSecs
	return out, nil
}
