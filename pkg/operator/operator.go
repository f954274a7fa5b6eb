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

// Package operator wires the engines, their storage, and the background
// controllers into a runnable process.
package operator

import (
	"context"

	"k8s.io/utils/clock"

	"github.com/neighborhood-lab/care-commons/pkg/aggregators/hhaexchange"
	"github.com/neighborhood-lab/care-commons/pkg/aggregators/sandata"
	"github.com/neighborhood-lab/care-commons/pkg/aggregators/tellus"
	"github.com/neighborhood-lab/care-commons/pkg/api"
	"github.com/neighborhood-lab/care-commons/pkg/controllers"
	"github.com/neighborhood-lab/care-commons/pkg/controllers/submissionretry"
	"github.com/neighborhood-lab/care-commons/pkg/controllers/vmurexpiry"
	"github.com/neighborhood-lab/care-commons/pkg/operator/options"
	"github.com/neighborhood-lab/care-commons/pkg/providers/address"
	"github.com/neighborhood-lab/care-commons/pkg/providers/availability"
	"github.com/neighborhood-lab/care-commons/pkg/providers/directory"
	"github.com/neighborhood-lab/care-commons/pkg/providers/evv"
	"github.com/neighborhood-lab/care-commons/pkg/providers/geofence"
	"github.com/neighborhood-lab/care-commons/pkg/providers/submission"
	"github.com/neighborhood-lab/care-commons/pkg/providers/visit"
	"github.com/neighborhood-lab/care-commons/pkg/providers/vmur"
	"github.com/neighborhood-lab/care-commons/pkg/storage/postgres"
)

// Operator holds every wired component.
type Operator struct {
	Store       *postgres.Store
	Server      *api.Server
	Controllers []controllers.Controller
	Clock       clock.Clock
}

// New wires the full dependency graph from options.
func New(ctx context.Context, opts *options.Options) (*Operator, error) {
	store, err := postgres.Open(ctx, opts.PostgresDSN)
	if err != nil {
		return nil, err
	}

	rules, err := evv.LoadRulesConfig(opts.StateRulesFile)
	if err != nil {
		store.Close()
		return nil, err
	}

	clk := clock.RealClock{}
	directoryClient := directory.NewClient(opts.DirectoryURL, opts.DirectoryToken, opts.AggregatorTimeout)
	addresses := address.NewCachedProvider(directoryClient, opts.AddressCacheTTL)
	availabilityEngine := availability.NewEngine(store)
	visits := visit.NewProvider(store, addresses, availabilityEngine, clk)
	geofences := geofence.NewProvider(store)
	evvProvider := evv.NewProvider(store, visits, directoryClient, directoryClient, geofences, rules, clk)

	router := submission.NewRouter()
	if opts.HHAeXchangeEndpoint != "" {
		router.Register("TX", hhaexchange.NewAdapter("hhaexchange-tx", opts.HHAeXchangeEndpoint, opts.HHAeXchangeToken, opts.AggregatorTimeout))
	}
	for mco, endpoint := range opts.FloridaMCOEndpoints {
		router.Register("FL", hhaexchange.NewAdapter("hhaexchange-fl-"+mco, endpoint, opts.HHAeXchangeToken, opts.AggregatorTimeout))
	}
	if opts.SandataEndpoint != "" {
		for _, state := range []string{"OH", "PA", "NC", "AZ"} {
			router.Register(state, sandata.NewAdapter("sandata-"+state, opts.SandataEndpoint, opts.SandataToken, opts.AggregatorTimeout))
		}
	}
	if opts.TellusEndpoint != "" {
		router.Register("GA", tellus.NewAdapter("tellus-ga", opts.TellusEndpoint, opts.TellusToken, opts.AggregatorTimeout))
	}
	submissions := submission.NewEngine(store, router, clk)
	vmurs := vmur.NewProvider(store, rules, submissions, clk)

	return &Operator{
		Store:  store,
		Server: api.NewServer(visits, evvProvider, submissions, vmurs),
		Controllers: []controllers.Controller{
			submissionretry.NewController(submissions, opts.RetrySweepInterval),
			vmurexpiry.NewController(vmurs, opts.VMURExpiryInterval),
		},
		Clock: clk,
	}, nil
}
