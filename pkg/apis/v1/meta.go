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

// Package v1 defines the typed domain API shared by the scheduling,
// verification and submission engines: entities, closed enumerations, and
// their structural validation. Enumerations are wire values and must match
// the aggregator contracts bit-exactly.
package v1

import (
	"time"

	"github.com/google/uuid"
)

// ObjectMeta carries the fields every persisted entity shares. Version is
// monotonic and incremented on every write; writes are conditioned on the
// version read (optimistic concurrency). DeletedAt implements soft delete;
// read paths exclude soft-deleted rows unless explicitly requested.
type ObjectMeta struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organizationId" db:"organization_id"`
	BranchID       uuid.UUID  `json:"branchId" db:"branch_id"`
	Version        int64      `json:"version" db:"version"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
	CreatedBy      uuid.UUID  `json:"createdBy" db:"created_by"`
	UpdatedBy      uuid.UUID  `json:"updatedBy" db:"updated_by"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

// IsDeleted reports whether the entity is soft-deleted.
func (m *ObjectMeta) IsDeleted() bool { return m.DeletedAt != nil }

// Role is the closed set of principal roles the core checks. Identity and
// role storage live outside the core; the acting principal is injected.
type Role string

const (
	RoleSuperAdmin  Role = "SUPER_ADMIN"
	RoleOrgAdmin    Role = "ORG_ADMIN"
	RoleBranchAdmin Role = "BRANCH_ADMIN"
	RoleCoordinator Role = "COORDINATOR"
	RoleCaregiver   Role = "CAREGIVER"
)

var supervisorRoles = map[Role]struct{}{
	RoleSuperAdmin:  {},
	RoleOrgAdmin:    {},
	RoleBranchAdmin: {},
	RoleCoordinator: {},
}

// Principal is the authenticated actor performing an operation.
type Principal struct {
	UserID      uuid.UUID `json:"userId"`
	Name        string    `json:"name"`
	Roles       []Role    `json:"roles"`
	Permissions []string  `json:"permissions"`
}

// IsSupervisor reports whether any of the principal's roles grants
// supervisor authority (manual overrides, VMUR approval, acting on behalf).
func (p Principal) IsSupervisor() bool {
	for _, role := range p.Roles {
		if _, ok := supervisorRoles[role]; ok {
			return true
		}
	}
	return false
}

// HasPermission checks an explicit permission grant such as "evv:clock_in".
func (p Principal) HasPermission(permission string) bool {
	for _, granted := range p.Permissions {
		if granted == permission {
			return true
		}
	}
	return false
}

// ServiceAddress is the location care is delivered at. Latitude and
// longitude are optional at rest but required before any EVV clock event;
// missing coordinates are a validation failure, never a fabricated default.
type ServiceAddress struct {
	AddressID       uuid.UUID `json:"addressId"`
	Line1           string    `json:"line1"`
	Line2           string    `json:"line2,omitempty"`
	City            string    `json:"city"`
	State           string    `json:"state"`
	PostalCode      string    `json:"postalCode"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	GeofenceRadiusM *float64  `json:"geofenceRadiusM,omitempty"`
}

// HasCoordinates reports whether the address has been geocoded.
func (a ServiceAddress) HasCoordinates() bool {
	return a.Latitude != nil && a.Longitude != nil
}
