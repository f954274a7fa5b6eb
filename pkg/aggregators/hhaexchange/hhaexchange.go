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

// Package hhaexchange adapts submissions to the HHAeXchange aggregator used
// by Texas and Florida programs.
package hhaexchange

import (
	"context"
	"time"

	"github.com/neighborhood-lab/care-commons/pkg/aggregators"
	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
)

type Adapter struct {
	id     string
	client *aggregators.Client
}

// NewAdapter builds an HHAeXchange adapter instance. Florida deployments may
// configure several instances, one per MCO endpoint.
func NewAdapter(id, endpoint, authToken string, timeout time.Duration) *Adapter {
	return &Adapter{
		id:     id,
		client: aggregators.NewClient("hhaexchange/"+id, endpoint, authToken, timeout),
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Type() v1.AggregatorType { return v1.AggregatorHHAeXchange }

func (a *Adapter) Submit(ctx context.Context, _ *v1.EVVRecord, payload []byte) (aggregators.Result, error) {
	return a.client.Post(ctx, payload)
}
