// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package healthcheck reports ingestion runs to healthchecks.io so that missed
// or failing scheduled runs raise an alert.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

var (
	ErrStatus = errors.New("status code is invalid")
)

const (
	DefaultPingURL = "https://hc-ping.com"
	DefaultAPIURL  = "https://healthchecks.io/api/v3"
)

type Client struct {
	PingURL string
	APIURL  string
	APIKey  string

	client *resty.Client
}

func New(apiKey string) *Client {
	return &Client{
		PingURL: DefaultPingURL,
		APIURL:  DefaultAPIURL,
		APIKey:  apiKey,
		client:  resty.New(),
	}
}

type createReq struct {
	APIKey      string `json:"api_key"`
	Name        string `json:"name"`
	Description string `json:"desc,omitempty"`
	Grace       int    `json:"grace"`
	Schedule    string `json:"schedule"`
	Slug        string `json:"slug"`
	Tags        string `json:"tags"`
	Timezone    string `json:"tz"`
}

type createResp struct {
	PingURL string `json:"ping_url"`
}

// Create a new healthchecks.io check for a cron schedule and return the id
func (hc *Client) Create(ctx context.Context, name, slug string, tags []string, schedule string) (string, error) {
	command := createReq{
		APIKey:   hc.APIKey,
		Name:     name,
		Slug:     slug,
		Tags:     strings.Join(tags, " "),
		Grace:    3600,
		Schedule: schedule,
		Timezone: "UTC",
	}

	result := createResp{}

	resp, err := hc.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(command).
		SetResult(&result).
		Post(hc.APIURL + "/checks/")

	if err != nil {
		return "", err
	}

	if resp.StatusCode() > 201 {
		return "", fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode())
	}

	checkID := strings.Split(result.PingURL, "/")
	healthCheckID := checkID[len(checkID)-1]

	return healthCheckID, nil
}

func (hc *Client) ping(ctx context.Context, id, suffix, body string) error {
	if id == "" {
		return nil
	}

	url := fmt.Sprintf("%s/%s%s", strings.TrimRight(hc.PingURL, "/"), id, suffix)
	resp, err := hc.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(url)

	if err != nil {
		return err
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode())
	}

	return nil
}

// Start signals that a run has begun. An empty id is a no-op.
func (hc *Client) Start(ctx context.Context, id string) error {
	return hc.ping(ctx, id, "/start", "")
}

// Success signals that a run finished; summary is attached to the ping
func (hc *Client) Success(ctx context.Context, id, summary string) error {
	return hc.ping(ctx, id, "", summary)
}

// Fail signals that a run finished with errors
func (hc *Client) Fail(ctx context.Context, id, summary string) error {
	return hc.ping(ctx, id, "/fail", summary)
}
