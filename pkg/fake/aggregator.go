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

package fake

import (
	"context"
	"sync"
	"sync/atomic"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/aggregators"
)

// Aggregator is a programmable aggregators.Adapter. Queued results are
// consumed in order; once drained, Default is returned.
type Aggregator struct {
	AdapterID   string
	VendorType  v1.AggregatorType
	Default     aggregators.Result
	SubmitError error

	mu      sync.Mutex
	queue   []aggregators.Result
	submits atomic.Int64
}

var _ aggregators.Adapter = (*Aggregator)(nil)

func NewAggregator(id string, vendorType v1.AggregatorType) *Aggregator {
	return &Aggregator{
		AdapterID:  id,
		VendorType: vendorType,
		Default:    aggregators.Result{Success: true, ConfirmationID: "FAKE-CONF"},
	}
}

func (a *Aggregator) ID() string              { return a.AdapterID }
func (a *Aggregator) Type() v1.AggregatorType { return a.VendorType }

// Enqueue appends results consumed by subsequent Submit calls.
func (a *Aggregator) Enqueue(results ...aggregators.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, results...)
}

func (a *Aggregator) Submit(_ context.Context, _ *v1.EVVRecord, _ []byte) (aggregators.Result, error) {
	a.submits.Add(1)
	if a.SubmitError != nil {
		return aggregators.Result{}, a.SubmitError
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) > 0 {
		next := a.queue[0]
		a.queue = a.queue[1:]
		return next, nil
	}
	return a.Default, nil
}

// SubmitCalls reports how many submissions reached the fake vendor.
func (a *Aggregator) SubmitCalls() int64 { return a.submits.Load() }
