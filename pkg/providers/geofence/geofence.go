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

// Package geofence verifies clock-event coordinates against the spatial
// region around a service address and maintains per-geofence statistics.
package geofence

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/logging"
	"github.com/neighborhood-lab/care-commons/pkg/metrics"
	"github.com/neighborhood-lab/care-commons/pkg/storage"
)

const (
	// earthRadiusM is the mean Earth radius used by the haversine formula.
	earthRadiusM = 6_371_000.0

	// lookupTTL bounds how long a geofence row is served from memory. A
	// stale radius only widens or narrows tolerance for a few minutes, so a
	// short TTL is acceptable.
	lookupTTL = 3 * time.Minute
)

// CheckResult is the outcome of evaluating one event against a geofence.
type CheckResult struct {
	DistanceM            float64
	EffectiveRadiusM     float64
	WithinGeofence       bool
	RequiresManualReview bool
}

// Provider owns geofence persistence, lookup caching, and the distance
// check.
type Provider struct {
	store storage.GeofenceStore
	cache *cache.Cache
}

func NewProvider(store storage.GeofenceStore) *Provider {
	return &Provider{
		store: store,
		cache: cache.New(lookupTTL, 2*lookupTTL),
	}
}

// Create persists a geofence after validating its shape.
func (p *Provider) Create(ctx context.Context, geofence *v1.Geofence) error {
	if geofence.AddressID == uuid.Nil {
		return errors.Validation("MISSING_ADDRESS_ID", "geofence requires a real address id")
	}
	if geofence.RadiusM <= 0 {
		geofence.RadiusM = v1.DefaultGeofenceRadiusM
	}
	if geofence.Shape == "" {
		geofence.Shape = v1.GeofenceShapeCircle
	}
	if geofence.Shape == v1.GeofenceShapePolygon && len(geofence.PolygonPoints) < 3 {
		return errors.Validation("INVALID_POLYGON", "polygon geofence requires at least 3 vertices")
	}
	if geofence.Status == "" {
		geofence.Status = v1.GeofenceStatusActive
	}
	if err := p.store.CreateGeofence(ctx, geofence); err != nil {
		return err
	}
	p.cache.Delete(geofence.AddressID.String())
	return nil
}

// EnsureForAddress returns the geofence for the address, auto-creating one
// centered on the address when none exists. Addresses without coordinates
// are rejected; coordinates are never fabricated.
func (p *Provider) EnsureForAddress(ctx context.Context, address v1.ServiceAddress, meta v1.ObjectMeta) (*v1.Geofence, error) {
	if address.AddressID == uuid.Nil {
		return nil, errors.Validation("MISSING_ADDRESS_ID", "service address has no address id")
	}
	if cached, found := p.cache.Get(address.AddressID.String()); found {
		return cached.(*v1.Geofence), nil
	}

	existing, err := p.store.GetGeofenceByAddress(ctx, address.AddressID)
	if err == nil {
		p.cache.SetDefault(address.AddressID.String(), existing)
		return existing, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	if !address.HasCoordinates() {
		return nil, errors.Validation("ADDRESS_NOT_GEOCODED", "address %s has no coordinates", address.AddressID)
	}
	radius := v1.DefaultGeofenceRadiusM
	if address.GeofenceRadiusM != nil {
		radius = *address.GeofenceRadiusM
	}
	created := &v1.Geofence{
		ObjectMeta: v1.ObjectMeta{
			ID:             uuid.New(),
			OrganizationID: meta.OrganizationID,
			BranchID:       meta.BranchID,
			CreatedBy:      meta.CreatedBy,
			UpdatedBy:      meta.CreatedBy,
		},
		AddressID:       address.AddressID,
		CenterLatitude:  *address.Latitude,
		CenterLongitude: *address.Longitude,
		RadiusM:         radius,
		Shape:           v1.GeofenceShapeCircle,
		Status:          v1.GeofenceStatusActive,
	}
	if err := p.store.CreateGeofence(ctx, created); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Infow("auto-created geofence",
		"address-id", address.AddressID, "radius-m", radius)
	p.cache.SetDefault(address.AddressID.String(), created)
	return created, nil
}

// Check evaluates an event position against the geofence and records the
// outcome in the geofence's lifetime statistics. The effective radius adds
// the geofence's allowed variance, the state tolerance supplied by the
// caller's compliance rules, and the reported GPS accuracy.
func (p *Provider) Check(ctx context.Context, geofence *v1.Geofence, latitude, longitude, accuracyM, stateToleranceM float64) (CheckResult, error) {
	distance := Haversine(latitude, longitude, geofence.CenterLatitude, geofence.CenterLongitude)
	effective := geofence.RadiusM + geofence.AllowedVarianceM + stateToleranceM + accuracyM
	within := distance <= effective

	outcome := "pass"
	if !within {
		outcome = "fail"
	}
	metrics.GeofenceChecks.WithLabelValues(outcome).Inc()

	if err := p.store.RecordCheck(ctx, geofence.ID, within, accuracyM); err != nil {
		// Statistics are advisory; the verification outcome stands.
		logging.FromContext(ctx).Warnw("failed to record geofence check", "geofence-id", geofence.ID, "error", err)
	}
	return CheckResult{
		DistanceM:            distance,
		EffectiveRadiusM:     effective,
		WithinGeofence:       within,
		RequiresManualReview: !within,
	}, nil
}

// Haversine computes the great-circle distance in meters between two
// coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	rLat1 := lat1 * (math.Pi / 180.0)
	rLat2 := lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(rLat1)*math.Cos(rLat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}
