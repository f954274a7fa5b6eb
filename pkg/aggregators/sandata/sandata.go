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

// Package sandata adapts submissions to the Sandata aggregator used by the
// OH, PA, NC and AZ programs.
package sandata

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

func NewAdapter(id, endpoint, authToken string, timeout time.Duration) *Adapter {
	return &Adapter{
		id:     id,
		client: aggregators.NewClient("sandata/"+id, endpoint, authToken, timeout),
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Type() v1.AggregatorType { return v1.AggregatorSandata }

func (a *Adapter) Submit(ctx context.Context, _ *v1.EVVRecord, payload []byte) (aggregators.Result, error) {
	return a.client.Post(ctx, payload)
}
