/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package aggregators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/logging"
)

// vendorResponse is the minimal envelope all three vendors answer with.
type vendorResponse struct {
	Accepted          bool   `json:"accepted"`
	ConfirmationID    string `json:"confirmationId"`
	ErrorCode         string `json:"errorCode"`
	ErrorMessage      string `json:"errorMessage"`
	Retryable         bool   `json:"retryable"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// Client is the shared HTTP transport for vendor adapters. Each configured
// aggregator gets its own circuit breaker so a flapping vendor endpoint
// fails fast instead of tying up sweep workers.
type Client struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient builds a vendor transport for the given endpoint.
func NewClient(name, endpoint, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:  endpoint,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Post submits the payload and decodes the vendor envelope. Transport and
// breaker failures come back as Transport errors; vendor-level rejections
// come back inside the Result.
func (c *Client) Post(ctx context.Context, payload []byte) (Result, error) {
	raw, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("vendor returned %d: %s", resp.StatusCode, string(body))
		}
		return body, nil
	})
	if err != nil {
		logging.FromContext(ctx).Warnw("aggregator transport failure", "endpoint", c.endpoint, "error", err)
		return Result{}, errors.Transport("NETWORK_ERROR", "aggregator call failed").WithCause(err)
	}

	body := raw.([]byte)
	var envelope vendorResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Result{}, errors.Transport("MALFORMED_RESPONSE", "aggregator answered with an undecodable body").WithCause(err)
	}
	return Result{
		Success:           envelope.Accepted,
		ConfirmationID:    envelope.ConfirmationID,
		ErrorCode:         envelope.ErrorCode,
		ErrorMessage:      envelope.ErrorMessage,
		RequiresRetry:     envelope.Retryable,
		RetryAfterSeconds: envelope.RetryAfterSeconds,
		RawResponse:       string(body),
	}, nil
}
