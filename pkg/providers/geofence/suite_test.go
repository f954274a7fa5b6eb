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

package geofence_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/fake"
	"github.com/neighborhood-lab/care-commons/pkg/providers/geofence"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	ctx      context.Context
	store    *fake.Store
	provider *geofence.Provider
)

func TestGeofence(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Geofence")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	store = fake.NewStore()
	provider = geofence.NewProvider(store)
})

func geocodedAddress() v1.ServiceAddress {
	lat, lon := 30.2672, -97.7431
	return v1.ServiceAddress{
		AddressID:  uuid.New(),
		Line1:      "500 Congress Ave",
		City:       "Austin",
		State:      "TX",
		PostalCode: "78701",
		Latitude:   &lat,
		Longitude:  &lon,
	}
}

var _ = Describe("Haversine", func() {
	It("should be zero for identical points", func() {
		Expect(geofence.Haversine(30.2672, -97.7431, 30.2672, -97.7431)).To(BeZero())
	})
	It("should match a known city-pair distance", func() {
		// Austin to Dallas is roughly 293 km.
		distance := geofence.Haversine(30.2672, -97.7431, 32.7767, -96.7970)
		Expect(distance).To(BeNumerically("~", 293_000, 5_000))
	})
	It("should resolve small offsets at meter precision", func() {
		// One ten-thousandth of a degree of latitude is about 11 meters.
		distance := geofence.Haversine(30.0000, -97.0000, 30.0001, -97.0000)
		Expect(distance).To(BeNumerically("~", 11.1, 0.5))
	})
})

var _ = Describe("EnsureForAddress", func() {
	It("should auto-create a circular geofence centered on the address", func() {
		address := geocodedAddress()
		fence, err := provider.EnsureForAddress(ctx, address, v1.ObjectMeta{OrganizationID: uuid.New()})
		Expect(err).ToNot(HaveOccurred())
		Expect(fence.AddressID).To(Equal(address.AddressID))
		Expect(fence.CenterLatitude).To(Equal(*address.Latitude))
		Expect(fence.RadiusM).To(Equal(v1.DefaultGeofenceRadiusM))
		Expect(fence.Shape).To(Equal(v1.GeofenceShapeCircle))
		Expect(fence.Status).To(Equal(v1.GeofenceStatusActive))
	})
	It("should honor the address's configured radius", func() {
		address := geocodedAddress()
		radius := 250.0
		address.GeofenceRadiusM = &radius
		fence, err := provider.EnsureForAddress(ctx, address, v1.ObjectMeta{OrganizationID: uuid.New()})
		Expect(err).ToNot(HaveOccurred())
		Expect(fence.RadiusM).To(Equal(250.0))
	})
	It("should return the same geofence on repeated calls", func() {
		address := geocodedAddress()
		first, err := provider.EnsureForAddress(ctx, address, v1.ObjectMeta{OrganizationID: uuid.New()})
		Expect(err).ToNot(HaveOccurred())
		second, err := provider.EnsureForAddress(ctx, address, v1.ObjectMeta{OrganizationID: uuid.New()})
		Expect(err).ToNot(HaveOccurred())
		Expect(second.ID).To(Equal(first.ID))
	})
	It("should reject addresses without coordinates", func() {
		address := geocodedAddress()
		address.Latitude = nil
		address.Longitude = nil
		_, err := provider.EnsureForAddress(ctx, address, v1.ObjectMeta{OrganizationID: uuid.New()})
		Expect(errors.CodeOf(err)).To(Equal("ADDRESS_NOT_GEOCODED"))
	})
	It("should reject addresses without an address id", func() {
		address := geocodedAddress()
		address.AddressID = uuid.Nil
		_, err := provider.EnsureForAddress(ctx, address, v1.ObjectMeta{OrganizationID: uuid.New()})
		Expect(errors.CodeOf(err)).To(Equal("MISSING_ADDRESS_ID"))
	})
})

var _ = Describe("Check", func() {
	var fence *v1.Geofence

	BeforeEach(func() {
		var err error
		fence, err = provider.EnsureForAddress(ctx, geocodedAddress(), v1.ObjectMeta{OrganizationID: uuid.New()})
		Expect(err).ToNot(HaveOccurred())
	})

	It("should pass an event at the geofence center", func() {
		result, err := provider.Check(ctx, fence, fence.CenterLatitude, fence.CenterLongitude, 10, 50)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.WithinGeofence).To(BeTrue())
		Expect(result.RequiresManualReview).To(BeFalse())
		Expect(result.DistanceM).To(BeZero())
	})
	It("should add variance, state tolerance, and accuracy to the radius", func() {
		fence.AllowedVarianceM = 25
		result, err := provider.Check(ctx, fence, fence.CenterLatitude, fence.CenterLongitude, 10, 50)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.EffectiveRadiusM).To(Equal(100.0 + 25 + 50 + 10))
	})
	It("should pass an event just inside the effective radius", func() {
		// ~160 m north of center; effective radius is 100 + 50 + 20 = 170.
		result, err := provider.Check(ctx, fence, fence.CenterLatitude+0.00144, fence.CenterLongitude, 20, 50)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.WithinGeofence).To(BeTrue())
	})
	It("should fail an event outside the effective radius and flag review", func() {
		// ~550 m north of center.
		result, err := provider.Check(ctx, fence, fence.CenterLatitude+0.005, fence.CenterLongitude, 10, 50)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.WithinGeofence).To(BeFalse())
		Expect(result.RequiresManualReview).To(BeTrue())
	})
	It("should accumulate lifetime statistics", func() {
		_, err := provider.Check(ctx, fence, fence.CenterLatitude, fence.CenterLongitude, 10, 50)
		Expect(err).ToNot(HaveOccurred())
		_, err = provider.Check(ctx, fence, fence.CenterLatitude+0.005, fence.CenterLongitude, 30, 50)
		Expect(err).ToNot(HaveOccurred())

		stored, err := store.GetGeofence(ctx, fence.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.Stats.VerificationCount).To(BeNumerically("==", 2))
		Expect(stored.Stats.SuccessfulCount).To(BeNumerically("==", 1))
		Expect(stored.Stats.FailedCount).To(BeNumerically("==", 1))
		Expect(stored.Stats.AverageAccuracyM).To(BeNumerically("~", 20.0, 0.001))
	})
})

var _ = Describe("Create", func() {
	It("should default the radius and shape", func() {
		fence := &v1.Geofence{
			ObjectMeta:      v1.ObjectMeta{ID: uuid.New(), OrganizationID: uuid.New()},
			AddressID:       uuid.New(),
			CenterLatitude:  30.0,
			CenterLongitude: -97.0,
		}
		Expect(provider.Create(ctx, fence)).To(Succeed())
		Expect(fence.RadiusM).To(Equal(v1.DefaultGeofenceRadiusM))
		Expect(fence.Shape).To(Equal(v1.GeofenceShapeCircle))
	})
	It("should reject polygons with fewer than three vertices", func() {
		fence := &v1.Geofence{
			ObjectMeta:    v1.ObjectMeta{ID: uuid.New(), OrganizationID: uuid.New()},
			AddressID:     uuid.New(),
			Shape:         v1.GeofenceShapePolygon,
			PolygonPoints: []v1.GeoPoint{{Latitude: 30, Longitude: -97}, {Latitude: 30.1, Longitude: -97}},
		}
		err := provider.Create(ctx, fence)
		Expect(errors.CodeOf(err)).To(Equal("INVALID_POLYGON"))
	})
})
