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

package submission

import (
	"sort"

	"github.com/samber/lo"

	"github.com/neighborhood-lab/care-commons/pkg/aggregators"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
)

// Router maps a service state code to the aggregator adapters that state's
// program designates. Most states route to exactly one adapter; Florida
// fans out to one HHAeXchange instance per managed-care organization.
type Router struct {
	byState map[string][]aggregators.Adapter
}

func NewRouter() *Router {
	return &Router{byState: map[string][]aggregators.Adapter{}}
}

// Register appends an adapter to a state's route. Registration order is
// preserved per state.
func (r *Router) Register(stateCode string, adapter aggregators.Adapter) *Router {
	r.byState[stateCode] = append(r.byState[stateCode], adapter)
	return r
}

// Route resolves the adapters for a state. A state with no registered
// aggregator is a configuration-level validation failure.
func (r *Router) Route(stateCode string) ([]aggregators.Adapter, error) {
	adapters, ok := r.byState[stateCode]
	if !ok || len(adapters) == 0 {
		return nil, errors.Validation("NO_AGGREGATOR_ROUTE", "no aggregator configured for state %q", stateCode)
	}
	return adapters, nil
}

// States lists the configured state codes, sorted for stable logging.
func (r *Router) States() []string {
	states := lo.Keys(r.byState)
	sort.Strings(states)
	return states
}
