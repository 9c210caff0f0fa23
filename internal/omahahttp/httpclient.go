// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahahttp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/edgecheck/updatecheck/internal/logger"
	"github.com/edgecheck/updatecheck/internal/omahaclient"
)

var log = logger.Logger()

const contentTypeJSON = "application/json"

// Client is the reference HTTPClient: a thin net/http wrapper that performs
// the update-service POST exchange and classifies malformed-URL failures as
// user errors, matching the RetryingRequester's split between retryable and
// non-retryable failures (§4.3).
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

func (c *Client) Do(ctx context.Context, rawURL string, body []byte) (*omahaclient.HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debugf("update service request to %s failed: %v", rawURL, err)
		return nil, err
	}
	return &omahaclient.HTTPResponse{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// IsUserError reports whether err reflects a malformed request on our side
// (bad URL) rather than a transient network condition, so the
// RetryingRequester can fail fast instead of burning retry attempts.
func (c *Client) IsUserError(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Op == "parse"
}
