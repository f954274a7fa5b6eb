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

// Package storage defines the narrow persistence interface the engines are
// written against. Implementations issue only parameterized queries; sort
// fields are whitelisted here so no user string ever reaches SQL.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

// SortOrder is the direction of a whitelisted sort.
type SortOrder string

const (
	SortAscending  SortOrder = "ASC"
	SortDescending SortOrder = "DESC"
)

// Page bounds a paginated search.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// VisitSortField is the closed set of sortable visit columns.
type VisitSortField string

const (
	VisitSortServiceDate VisitSortField = "service_date"
	VisitSortCreatedAt   VisitSortField = "created_at"
	VisitSortVisitNumber VisitSortField = "visit_number"
	VisitSortStatus      VisitSortField = "status"
)

// Validate rejects any sort field outside the whitelist.
func (f VisitSortField) Validate() error {
	switch f {
	case "", VisitSortServiceDate, VisitSortCreatedAt, VisitSortVisitNumber, VisitSortStatus:
		return nil
	}
	return errors.Validation("INVALID_SORT_FIELD", "visit sort field %q is not sortable", string(f))
}

// EVVRecordSortField is the closed set of sortable EVV record columns.
type EVVRecordSortField string

const (
	EVVRecordSortClockIn   EVVRecordSortField = "clock_in_time"
	EVVRecordSortCreatedAt EVVRecordSortField = "created_at"
	EVVRecordSortStatus    EVVRecordSortField = "status"
)

func (f EVVRecordSortField) Validate() error {
	switch f {
	case "", EVVRecordSortClockIn, EVVRecordSortCreatedAt, EVVRecordSortStatus:
		return nil
	}
	return errors.Validation("INVALID_SORT_FIELD", "evv record sort field %q is not sortable", string(f))
}

// VisitSearch filters a paginated visit query.
type VisitSearch struct {
	OrganizationID uuid.UUID
	BranchID       *uuid.UUID
	ClientID       *uuid.UUID
	CaregiverID    *uuid.UUID
	DateFrom       *timeutil.Date
	DateTo         *timeutil.Date
	Statuses       []v1.VisitStatus
	IncludeDeleted bool

	Sort  VisitSortField
	Order SortOrder
	Page  Page
}

// EVVRecordSearch filters a paginated EVV record query.
type EVVRecordSearch struct {
	OrganizationID uuid.UUID
	ClientID       *uuid.UUID
	CaregiverID    *uuid.UUID
	Statuses       []v1.EVVRecordStatus
	From           *time.Time
	To             *time.Time

	Sort  EVVRecordSortField
	Order SortOrder
	Page  Page
}

// SubmissionStatusCount is one dashboard aggregation row.
type SubmissionStatusCount struct {
	StateCode      string              `json:"stateCode"`
	AggregatorType v1.AggregatorType   `json:"aggregatorType"`
	Status         v1.SubmissionStatus `json:"status"`
	Count          int64               `json:"count"`
}

// PatternStore reads service patterns.
type PatternStore interface {
	GetPattern(ctx context.Context, id uuid.UUID) (*v1.ServicePattern, error)
	CreatePattern(ctx context.Context, pattern *v1.ServicePattern) error
	UpdatePattern(ctx context.Context, pattern *v1.ServicePattern) error
}

// HolidayStore reads org+branch holiday calendars.
type HolidayStore interface {
	HolidayDates(ctx context.Context, organizationID, branchID uuid.UUID, from, to timeutil.Date) ([]timeutil.Date, error)
}

// VisitStore persists visits. Update conditions on the entity's Version and
// increments it; a stale version yields a Conflict error.
type VisitStore interface {
	CreateVisit(ctx context.Context, visit *v1.Visit) error
	GetVisit(ctx context.Context, id uuid.UUID) (*v1.Visit, error)
	UpdateVisit(ctx context.Context, visit *v1.Visit) error
	SearchVisits(ctx context.Context, search VisitSearch) ([]*v1.Visit, int64, error)
	VisitsByClientAndDate(ctx context.Context, clientID uuid.UUID, date timeutil.Date, statuses []v1.VisitStatus) ([]*v1.Visit, error)
	VisitsByCaregiverAndDate(ctx context.Context, caregiverID uuid.UUID, date timeutil.Date, statuses []v1.VisitStatus) ([]*v1.Visit, error)
	UnassignedVisits(ctx context.Context, organizationID uuid.UUID, from, to timeutil.Date) ([]*v1.Visit, error)
	// NextVisitSequence atomically allocates the next per-org per-year visit
	// number, safe under concurrent inserts.
	NextVisitSequence(ctx context.Context, organizationID uuid.UUID, year int) (int64, error)
}

// EVVRecordStore persists verification records.
type EVVRecordStore interface {
	CreateEVVRecord(ctx context.Context, record *v1.EVVRecord) error
	GetEVVRecord(ctx context.Context, id uuid.UUID) (*v1.EVVRecord, error)
	GetEVVRecordByVisit(ctx context.Context, visitID uuid.UUID) (*v1.EVVRecord, error)
	UpdateEVVRecord(ctx context.Context, record *v1.EVVRecord) error
	SearchEVVRecords(ctx context.Context, search EVVRecordSearch) ([]*v1.EVVRecord, int64, error)
}

// GeofenceStore persists geofences. RecordCheck must update the lifetime
// counters and running average accuracy atomically.
type GeofenceStore interface {
	CreateGeofence(ctx context.Context, geofence *v1.Geofence) error
	GetGeofence(ctx context.Context, id uuid.UUID) (*v1.Geofence, error)
	GetGeofenceByAddress(ctx context.Context, addressID uuid.UUID) (*v1.Geofence, error)
	RecordCheck(ctx context.Context, id uuid.UUID, success bool, accuracyM float64) error
}

// SubmissionStore persists aggregator submissions. ClaimDueRetries selects
// RETRY rows whose nextRetryAt has passed, flips them to IN_FLIGHT under
// row-level locking (FOR UPDATE SKIP LOCKED or equivalent) and returns them;
// concurrent sweeps never double-process a row.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, submission *v1.AggregatorSubmission) error
	GetSubmission(ctx context.Context, id uuid.UUID) (*v1.AggregatorSubmission, error)
	UpdateSubmission(ctx context.Context, submission *v1.AggregatorSubmission) error
	SubmissionsByRecord(ctx context.Context, evvRecordID uuid.UUID) ([]*v1.AggregatorSubmission, error)
	ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*v1.AggregatorSubmission, error)
	StatusCounts(ctx context.Context, organizationID uuid.UUID) ([]SubmissionStatusCount, error)
	CountRetryingBefore(ctx context.Context, organizationID uuid.UUID, before time.Time) (int64, error)
}

// VMURStore persists visit maintenance unlock requests.
type VMURStore interface {
	CreateVMUR(ctx context.Context, vmur *v1.VMUR) error
	GetVMUR(ctx context.Context, id uuid.UUID) (*v1.VMUR, error)
	UpdateVMUR(ctx context.Context, vmur *v1.VMUR) error
	PendingVMURs(ctx context.Context, organizationID uuid.UUID) ([]*v1.VMUR, error)
	PendingVMURsExpiredBefore(ctx context.Context, cutoff time.Time) ([]*v1.VMUR, error)
}

// Store is the full persistence surface the operator wires in.
type Store interface {
	PatternStore
	HolidayStore
	VisitStore
	EVVRecordStore
	GeofenceStore
	SubmissionStore
	VMURStore
}
