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

// Package address wraps the injected client-address source with a TTL cache
// so schedule generation does not re-resolve the same client repeatedly.
package address

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/metrics"
)

// DefaultTTL is how long a resolved address is served from memory.
const DefaultTTL = 5 * time.Minute

// Source is the injected client-address provider.
type Source interface {
	GetClientAddress(ctx context.Context, clientID uuid.UUID) (v1.ServiceAddress, error)
}

// Stats reports cache effectiveness for monitoring.
type Stats struct {
	Size   int           `json:"size"`
	TTL    time.Duration `json:"ttl"`
	Hits   int64         `json:"hits"`
	Misses int64         `json:"misses"`
}

// CachedProvider is a concurrent-safe caching wrapper around a Source.
type CachedProvider struct {
	source Source
	cache  *cache.Cache
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedProvider wraps the source with the given TTL (DefaultTTL when
// non-positive).
func NewCachedProvider(source Source, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedProvider{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
		ttl:    ttl,
	}
}

// GetClientAddress resolves the client's service address, consulting the
// cache first.
func (p *CachedProvider) GetClientAddress(ctx context.Context, clientID uuid.UUID) (v1.ServiceAddress, error) {
	if cached, found := p.cache.Get(clientID.String()); found {
		p.hits.Add(1)
		metrics.AddressCacheHits.WithLabelValues("hit").Inc()
		return cached.(v1.ServiceAddress), nil
	}
	p.misses.Add(1)
	metrics.AddressCacheHits.WithLabelValues("miss").Inc()
	resolved, err := p.source.GetClientAddress(ctx, clientID)
	if err != nil {
		return v1.ServiceAddress{}, err
	}
	p.cache.SetDefault(clientID.String(), resolved)
	return resolved, nil
}

// Invalidate evicts one client's cached address.
func (p *CachedProvider) Invalidate(clientID uuid.UUID) {
	p.cache.Delete(clientID.String())
}

// Clear evicts everything.
func (p *CachedProvider) Clear() {
	p.cache.Flush()
}

// Stats reports current cache size, TTL and hit counters.
func (p *CachedProvider) Stats() Stats {
	return Stats{
		Size:   p.cache.ItemCount(),
		TTL:    p.ttl,
		Hits:   p.hits.Load(),
		Misses: p.misses.Load(),
	}
}
