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

// Package directory is the HTTP client for the demographics service that
// owns clients, caregivers and addresses. The core never stores these; it
// reads narrow projections on demand.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
)

const maxResponseBytes = 1 << 20

// Client talks to the directory service.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetClientForEVV(ctx context.Context, clientID uuid.UUID) (*v1.ClientForEVV, error) {
	out := &v1.ClientForEVV{}
	if err := c.get(ctx, fmt.Sprintf("/v1/clients/%s", clientID), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetClientAddress(ctx context.Context, clientID uuid.UUID) (v1.ServiceAddress, error) {
	var out v1.ServiceAddress
	if err := c.get(ctx, fmt.Sprintf("/v1/clients/%s/address", clientID), nil, &out); err != nil {
		return v1.ServiceAddress{}, err
	}
	return out, nil
}

func (c *Client) GetCaregiverForEVV(ctx context.Context, caregiverID uuid.UUID) (*v1.CaregiverForEVV, error) {
	out := &v1.CaregiverForEVV{}
	if err := c.get(ctx, fmt.Sprintf("/v1/caregivers/%s", caregiverID), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CanProvideService(ctx context.Context, caregiverID uuid.UUID, serviceTypeCode string, clientID uuid.UUID) (v1.ServiceAuthorization, error) {
	query := url.Values{}
	query.Set("serviceTypeCode", serviceTypeCode)
	query.Set("clientId", clientID.String())
	var out v1.ServiceAuthorization
	if err := c.get(ctx, fmt.Sprintf("/v1/caregivers/%s/authorization", caregiverID), query, &out); err != nil {
		return v1.ServiceAuthorization{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, into any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if c.authToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	response, err := c.http.Do(request)
	if err != nil {
		return errors.Transport("DIRECTORY_UNREACHABLE", "directory request %s failed", path).WithCause(err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return errors.Transport("DIRECTORY_UNREACHABLE", "reading directory response for %s failed", path).WithCause(err)
	}
	switch {
	case response.StatusCode == http.StatusNotFound:
		return errors.NotFound("directory resource", path)
	case response.StatusCode >= 400:
		return errors.Transport("DIRECTORY_ERROR", "directory returned %d for %s", response.StatusCode, path)
	}
	if err := json.Unmarshal(body, into); err != nil {
		return errors.Transport("DIRECTORY_BAD_RESPONSE", "directory response for %s is not valid JSON", path).WithCause(err)
	}
	return nil
}
