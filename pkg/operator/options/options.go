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

// Package options defines the process configuration, resolved from flags
// with environment-variable defaults.
package options

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/neighborhood-lab/care-commons/pkg/utils/env"
)

// Options is the full process configuration.
type Options struct {
	HTTPPort int
	Debug    bool

	PostgresDSN    string
	StateRulesFile string

	DirectoryURL   string
	DirectoryToken string

	AddressCacheTTL    time.Duration
	RetrySweepInterval time.Duration
	VMURExpiryInterval time.Duration

	AggregatorTimeout time.Duration

	HHAeXchangeEndpoint string
	HHAeXchangeToken    string
	SandataEndpoint     string
	SandataToken        string
	TellusEndpoint      string
	TellusToken         string

	// FloridaMCOEndpoints maps MCO identifiers to their dedicated
	// HHAeXchange instances, e.g. "sunshine=https://...;simply=https://...".
	FloridaMCOEndpoints map[string]string
}

func (o *Options) AddFlags(fs *flag.FlagSet) {
	fs.IntVar(&o.HTTPPort, "http-port", env.WithDefaultInt("HTTP_PORT", 8080), "Port the API and metrics listen on")
	fs.BoolVar(&o.Debug, "debug", env.WithDefaultBool("DEBUG", false), "Enable debug logging")
	fs.StringVar(&o.PostgresDSN, "postgres-dsn", env.WithDefaultString("POSTGRES_DSN", ""), "PostgreSQL connection string")
	fs.StringVar(&o.StateRulesFile, "state-rules-file", env.WithDefaultString("STATE_RULES_FILE", ""), "Optional TOML file overriding the compiled state compliance rules")
	fs.StringVar(&o.DirectoryURL, "directory-url", env.WithDefaultString("DIRECTORY_URL", ""), "Base URL of the demographics directory service")
	fs.StringVar(&o.DirectoryToken, "directory-token", env.WithDefaultString("DIRECTORY_TOKEN", ""), "Bearer token for the directory service")
	fs.DurationVar(&o.AddressCacheTTL, "address-cache-ttl", env.WithDefaultDuration("ADDRESS_CACHE_TTL", 5*time.Minute), "TTL for cached client addresses")
	fs.DurationVar(&o.RetrySweepInterval, "retry-sweep-interval", env.WithDefaultDuration("RETRY_SWEEP_INTERVAL", 30*time.Second), "How often due submission retries are swept")
	fs.DurationVar(&o.VMURExpiryInterval, "vmur-expiry-interval", env.WithDefaultDuration("VMUR_EXPIRY_INTERVAL", 15*time.Minute), "How often stale unlock requests are expired")
	fs.DurationVar(&o.AggregatorTimeout, "aggregator-timeout", env.WithDefaultDuration("AGGREGATOR_TIMEOUT", 30*time.Second), "Per-request timeout for aggregator calls")
	fs.StringVar(&o.HHAeXchangeEndpoint, "hhaexchange-endpoint", env.WithDefaultString("HHAEXCHANGE_ENDPOINT", ""), "HHAeXchange submission endpoint (Texas)")
	fs.StringVar(&o.HHAeXchangeToken, "hhaexchange-token", env.WithDefaultString("HHAEXCHANGE_TOKEN", ""), "HHAeXchange auth token")
	fs.StringVar(&o.SandataEndpoint, "sandata-endpoint", env.WithDefaultString("SANDATA_ENDPOINT", ""), "Sandata submission endpoint")
	fs.StringVar(&o.SandataToken, "sandata-token", env.WithDefaultString("SANDATA_TOKEN", ""), "Sandata auth token")
	fs.StringVar(&o.TellusEndpoint, "tellus-endpoint", env.WithDefaultString("TELLUS_ENDPOINT", ""), "Tellus submission endpoint")
	fs.StringVar(&o.TellusToken, "tellus-token", env.WithDefaultString("TELLUS_TOKEN", ""), "Tellus auth token")

	raw := env.WithDefaultString("FL_MCO_ENDPOINTS", "")
	fs.Func("fl-mco-endpoints", "Florida MCO HHAeXchange endpoints as name=url pairs separated by ';'", func(value string) error {
		endpoints, err := parseMCOEndpoints(value)
		if err != nil {
			return err
		}
		o.FloridaMCOEndpoints = endpoints
		return nil
	})
	if raw != "" {
		if endpoints, err := parseMCOEndpoints(raw); err == nil {
			o.FloridaMCOEndpoints = endpoints
		}
	}
}

// Validate rejects configurations the operator cannot start with.
func (o *Options) Validate() error {
	if o.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn is required")
	}
	if o.DirectoryURL == "" {
		return fmt.Errorf("directory-url is required")
	}
	return nil
}

func parseMCOEndpoints(raw string) (map[string]string, error) {
	endpoints := map[string]string{}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, endpoint, found := strings.Cut(pair, "=")
		if !found || name == "" || endpoint == "" {
			return nil, fmt.Errorf("malformed MCO endpoint pair %q, want name=url", pair)
		}
		endpoints[strings.TrimSpace(name)] = strings.TrimSpace(endpoint)
	}
	return endpoints, nil
}
