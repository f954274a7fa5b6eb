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

package v1

import (
	"github.com/google/uuid"
)

// DefaultGeofenceRadiusM is used when an address specifies no radius.
const DefaultGeofenceRadiusM = 100.0

// GeofenceShape is the spatial form of a geofence.
type GeofenceShape string

const (
	GeofenceShapeCircle  GeofenceShape = "CIRCLE"
	GeofenceShapePolygon GeofenceShape = "POLYGON"
)

// GeofenceStatus is the operational state of a geofence.
type GeofenceStatus string

const (
	GeofenceStatusActive      GeofenceStatus = "ACTIVE"
	GeofenceStatusInactive    GeofenceStatus = "INACTIVE"
	GeofenceStatusCalibrating GeofenceStatus = "CALIBRATING"
)

// GeoPoint is one polygon vertex.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeofenceStats are lifetime verification counters, updated atomically on
// every check.
type GeofenceStats struct {
	VerificationCount int64   `json:"verificationCount"`
	SuccessfulCount   int64   `json:"successfulCount"`
	FailedCount       int64   `json:"failedCount"`
	AverageAccuracyM  float64 `json:"averageAccuracyM"`
}

// Geofence is the spatial region around a service address used to verify
// caregiver presence. One geofence is shared by all visits at the address.
type Geofence struct {
	ObjectMeta

	AddressID        uuid.UUID      `json:"addressId"`
	CenterLatitude   float64        `json:"centerLatitude"`
	CenterLongitude  float64        `json:"centerLongitude"`
	RadiusM          float64        `json:"radiusM"`
	Shape            GeofenceShape  `json:"shape"`
	PolygonPoints    []GeoPoint     `json:"polygonPoints,omitempty"`
	AllowedVarianceM float64        `json:"allowedVarianceM"`
	Stats            GeofenceStats  `json:"stats"`
	Status           GeofenceStatus `json:"status"`
}
