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

// Package fake provides in-memory doubles for the storage and collaborator
// interfaces. They honor the same version-conditioning contract as the SQL
// implementation so concurrency behavior is testable without a database.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/storage"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

// Store is an in-memory storage.Store.
type Store struct {
	mu sync.RWMutex

	patterns    map[uuid.UUID]*v1.ServicePattern
	visits      map[uuid.UUID]*v1.Visit
	records     map[uuid.UUID]*v1.EVVRecord
	geofences   map[uuid.UUID]*v1.Geofence
	submissions map[uuid.UUID]*v1.AggregatorSubmission
	vmurs       map[uuid.UUID]*v1.VMUR

	holidays  map[uuid.UUID][]timeutil.Date
	sequences map[string]int64
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		patterns:    map[uuid.UUID]*v1.ServicePattern{},
		visits:      map[uuid.UUID]*v1.Visit{},
		records:     map[uuid.UUID]*v1.EVVRecord{},
		geofences:   map[uuid.UUID]*v1.Geofence{},
		submissions: map[uuid.UUID]*v1.AggregatorSubmission{},
		vmurs:       map[uuid.UUID]*v1.VMUR{},
		holidays:    map[uuid.UUID][]timeutil.Date{},
		sequences:   map[string]int64{},
	}
}

// clone round-trips through JSON so callers never alias stored state.
func clone[T any](in *T) *T {
	encoded, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(encoded, out); err != nil {
		panic(err)
	}
	return out
}

func checkVersion(stored, incoming int64, entity string, id uuid.UUID) error {
	if stored != incoming {
		return errors.Conflict("VERSION_CONFLICT", "%s %s was modified concurrently (have %d, want %d)", entity, id, stored, incoming)
	}
	return nil
}

// --- patterns ---

func (s *Store) CreatePattern(_ context.Context, pattern *v1.ServicePattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[pattern.ID] = clone(pattern)
	return nil
}

func (s *Store) GetPattern(_ context.Context, id uuid.UUID) (*v1.ServicePattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pattern, ok := s.patterns[id]
	if !ok || pattern.IsDeleted() {
		return nil, errors.NotFound("service pattern", id.String())
	}
	return clone(pattern), nil
}

func (s *Store) UpdatePattern(_ context.Context, pattern *v1.ServicePattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.patterns[pattern.ID]
	if !ok {
		return errors.NotFound("service pattern", pattern.ID.String())
	}
	if err := checkVersion(stored.Version, pattern.Version, "service pattern", pattern.ID); err != nil {
		return err
	}
	pattern.Version++
	s.patterns[pattern.ID] = clone(pattern)
	return nil
}

// --- holidays ---

// SetHolidays seeds the holiday calendar for an organization.
func (s *Store) SetHolidays(organizationID uuid.UUID, dates ...timeutil.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holidays[organizationID] = append([]timeutil.Date{}, dates...)
}

func (s *Store) HolidayDates(_ context.Context, organizationID, _ uuid.UUID, from, to timeutil.Date) ([]timeutil.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []timeutil.Date
	for _, date := range s.holidays[organizationID] {
		if date.Compare(from) >= 0 && date.Compare(to) <= 0 {
			out = append(out, date)
		}
	}
	return out, nil
}

// --- visits ---

func (s *Store) CreateVisit(_ context.Context, visit *v1.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[visit.ID] = clone(visit)
	return nil
}

func (s *Store) GetVisit(_ context.Context, id uuid.UUID) (*v1.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	visit, ok := s.visits[id]
	if !ok || visit.IsDeleted() {
		return nil, errors.NotFound("visit", id.String())
	}
	return clone(visit), nil
}

func (s *Store) UpdateVisit(_ context.Context, visit *v1.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.visits[visit.ID]
	if !ok {
		return errors.NotFound("visit", visit.ID.String())
	}
	if err := checkVersion(stored.Version, visit.Version, "visit", visit.ID); err != nil {
		return err
	}
	visit.Version++
	s.visits[visit.ID] = clone(visit)
	return nil
}

func (s *Store) SearchVisits(_ context.Context, search storage.VisitSearch) ([]*v1.Visit, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*v1.Visit
	for _, visit := range s.visits {
		if visit.OrganizationID != search.OrganizationID {
			continue
		}
		if visit.IsDeleted() && !search.IncludeDeleted {
			continue
		}
		if search.ClientID != nil && visit.ClientID != *search.ClientID {
			continue
		}
		if search.CaregiverID != nil && (visit.Assignment == nil || visit.Assignment.CaregiverID != *search.CaregiverID) {
			continue
		}
		if search.DateFrom != nil && visit.ServiceDate.Before(*search.DateFrom) {
			continue
		}
		if search.DateTo != nil && visit.ServiceDate.After(*search.DateTo) {
			continue
		}
		if len(search.Statuses) > 0 && !containsStatus(search.Statuses, visit.Status) {
			continue
		}
		matched = append(matched, clone(visit))
	}

	sort.Slice(matched, func(i, j int) bool {
		less := visitLess(search.Sort, matched[i], matched[j])
		if search.Order == storage.SortDescending {
			return !less
		}
		return less
	})

	total := int64(len(matched))
	page := search.Page.Normalize()
	return paginate(matched, page), total, nil
}

func visitLess(field storage.VisitSortField, a, b *v1.Visit) bool {
	switch field {
	case storage.VisitSortVisitNumber:
		return a.VisitNumber < b.VisitNumber
	case storage.VisitSortStatus:
		return a.Status < b.Status
	case storage.VisitSortCreatedAt:
		return a.CreatedAt.Before(b.CreatedAt)
	default:
		return a.ServiceDate.Compare(b.ServiceDate) < 0
	}
}

func (s *Store) VisitsByClientAndDate(_ context.Context, clientID uuid.UUID, date timeutil.Date, statuses []v1.VisitStatus) ([]*v1.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*v1.Visit
	for _, visit := range s.visits {
		if visit.IsDeleted() || visit.ClientID != clientID || visit.ServiceDate.Compare(date) != 0 {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, visit.Status) {
			continue
		}
		out = append(out, clone(visit))
	}
	return out, nil
}

func (s *Store) VisitsByCaregiverAndDate(_ context.Context, caregiverID uuid.UUID, date timeutil.Date, statuses []v1.VisitStatus) ([]*v1.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*v1.Visit
	for _, visit := range s.visits {
		if visit.IsDeleted() || visit.Assignment == nil || visit.Assignment.CaregiverID != caregiverID {
			continue
		}
		if visit.ServiceDate.Compare(date) != 0 {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, visit.Status) {
			continue
		}
		out = append(out, clone(visit))
	}
	return out, nil
}

func (s *Store) UnassignedVisits(_ context.Context, organizationID uuid.UUID, from, to timeutil.Date) ([]*v1.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*v1.Visit
	for _, visit := range s.visits {
		if visit.IsDeleted() || visit.OrganizationID != organizationID || visit.Status != v1.VisitStatusUnassigned {
			continue
		}
		if visit.ServiceDate.Before(from) || visit.ServiceDate.After(to) {
			continue
		}
		out = append(out, clone(visit))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceDate.Compare(out[j].ServiceDate) < 0 })
	return out, nil
}

func (s *Store) NextVisitSequence(_ context.Context, organizationID uuid.UUID, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%d", organizationID, year)
	s.sequences[key]++
	return s.sequences[key], nil
}

// --- EVV records ---

func (s *Store) CreateEVVRecord(_ context.Context, record *v1.EVVRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.VisitID == record.VisitID && !existing.IsDeleted() {
			return errors.Conflict("DUPLICATE_EVV_RECORD", "visit %s already has EVV record %s", record.VisitID, existing.ID)
		}
	}
	s.records[record.ID] = clone(record)
	return nil
}

func (s *Store) GetEVVRecord(_ context.Context, id uuid.UUID) (*v1.EVVRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok || record.IsDeleted() {
		return nil, errors.NotFound("EVV record", id.String())
	}
	return clone(record), nil
}

func (s *Store) GetEVVRecordByVisit(_ context.Context, visitID uuid.UUID) (*v1.EVVRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.records {
		if record.VisitID == visitID && !record.IsDeleted() {
			return clone(record), nil
		}
	}
	return nil, errors.NotFound("EVV record for visit", visitID.String())
}

func (s *Store) UpdateEVVRecord(_ context.Context, record *v1.EVVRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[record.ID]
	if !ok {
		return errors.NotFound("EVV record", record.ID.String())
	}
	if err := checkVersion(stored.Version, record.Version, "EVV record", record.ID); err != nil {
		return err
	}
	record.Version++
	s.records[record.ID] = clone(record)
	return nil
}

func (s *Store) SearchEVVRecords(_ context.Context, search storage.EVVRecordSearch) ([]*v1.EVVRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*v1.EVVRecord
	for _, record := range s.records {
		if record.IsDeleted() || record.OrganizationID != search.OrganizationID {
			continue
		}
		if search.ClientID != nil && record.ClientID != *search.ClientID {
			continue
		}
		if search.CaregiverID != nil && record.CaregiverID != *search.CaregiverID {
			continue
		}
		if len(search.Statuses) > 0 && !containsRecordStatus(search.Statuses, record.Status) {
			continue
		}
		if search.From != nil && record.ClockInTime.Before(*search.From) {
			continue
		}
		if search.To != nil && record.ClockInTime.After(*search.To) {
			continue
		}
		matched = append(matched, clone(record))
	}

	sort.Slice(matched, func(i, j int) bool {
		less := matched[i].ClockInTime.Before(matched[j].ClockInTime)
		if search.Sort == storage.EVVRecordSortCreatedAt {
			less = matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		if search.Order == storage.SortDescending {
			return !less
		}
		return less
	})

	total := int64(len(matched))
	return paginate(matched, search.Page.Normalize()), total, nil
}

// --- geofences ---

func (s *Store) CreateGeofence(_ context.Context, geofence *v1.Geofence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geofences[geofence.ID] = clone(geofence)
	return nil
}

func (s *Store) GetGeofence(_ context.Context, id uuid.UUID) (*v1.Geofence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	geofence, ok := s.geofences[id]
	if !ok || geofence.IsDeleted() {
		return nil, errors.NotFound("geofence", id.String())
	}
	return clone(geofence), nil
}

func (s *Store) GetGeofenceByAddress(_ context.Context, addressID uuid.UUID) (*v1.Geofence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, geofence := range s.geofences {
		if geofence.AddressID == addressID && !geofence.IsDeleted() {
			return clone(geofence), nil
		}
	}
	return nil, errors.NotFound("geofence for address", addressID.String())
}

func (s *Store) RecordCheck(_ context.Context, id uuid.UUID, success bool, accuracyM float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	geofence, ok := s.geofences[id]
	if !ok {
		return errors.NotFound("geofence", id.String())
	}
	stats := &geofence.Stats
	total := float64(stats.VerificationCount)
	stats.AverageAccuracyM = (stats.AverageAccuracyM*total + accuracyM) / (total + 1)
	stats.VerificationCount++
	if success {
		stats.SuccessfulCount++
	} else {
		stats.FailedCount++
	}
	return nil
}

// --- submissions ---

func (s *Store) CreateSubmission(_ context.Context, submission *v1.AggregatorSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[submission.ID] = clone(submission)
	return nil
}

func (s *Store) GetSubmission(_ context.Context, id uuid.UUID) (*v1.AggregatorSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	submission, ok := s.submissions[id]
	if !ok {
		return nil, errors.NotFound("submission", id.String())
	}
	return clone(submission), nil
}

func (s *Store) UpdateSubmission(_ context.Context, submission *v1.AggregatorSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.submissions[submission.ID]
	if !ok {
		return errors.NotFound("submission", submission.ID.String())
	}
	if err := checkVersion(stored.Version, submission.Version, "submission", submission.ID); err != nil {
		return err
	}
	submission.Version++
	s.submissions[submission.ID] = clone(submission)
	return nil
}

func (s *Store) SubmissionsByRecord(_ context.Context, evvRecordID uuid.UUID) ([]*v1.AggregatorSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*v1.AggregatorSubmission
	for _, submission := range s.submissions {
		if submission.EVVRecordID == evvRecordID {
			out = append(out, clone(submission))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ClaimDueRetries(_ context.Context, now time.Time, limit int) ([]*v1.AggregatorSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*v1.AggregatorSubmission
	for _, submission := range s.submissions {
		if submission.Status != v1.SubmissionStatusRetry {
			continue
		}
		if submission.NextRetryAt == nil || submission.NextRetryAt.After(now) {
			continue
		}
		due = append(due, submission)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	var out []*v1.AggregatorSubmission
	for _, submission := range due {
		submission.Status = v1.SubmissionStatusInFlight
		submission.Version++
		out = append(out, clone(submission))
	}
	return out, nil
}

func (s *Store) StatusCounts(_ context.Context, organizationID uuid.UUID) ([]storage.SubmissionStatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type key struct {
		state  string
		vendor v1.AggregatorType
		status v1.SubmissionStatus
	}
	counts := map[key]int64{}
	for _, submission := range s.submissions {
		if submission.OrganizationID != organizationID {
			continue
		}
		counts[key{submission.StateCode, submission.AggregatorType, submission.Status}]++
	}
	var out []storage.SubmissionStatusCount
	for k, count := range counts {
		out = append(out, storage.SubmissionStatusCount{
			StateCode:      k.state,
			AggregatorType: k.vendor,
			Status:         k.status,
			Count:          count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StateCode != out[j].StateCode {
			return out[i].StateCode < out[j].StateCode
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

func (s *Store) CountRetryingBefore(_ context.Context, organizationID uuid.UUID, before time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, submission := range s.submissions {
		if submission.OrganizationID != organizationID || submission.Status != v1.SubmissionStatusRetry {
			continue
		}
		if submission.NextRetryAt != nil && submission.NextRetryAt.Before(before) {
			count++
		}
	}
	return count, nil
}

// --- VMURs ---

func (s *Store) CreateVMUR(_ context.Context, vmur *v1.VMUR) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vmurs[vmur.ID] = clone(vmur)
	return nil
}

func (s *Store) GetVMUR(_ context.Context, id uuid.UUID) (*v1.VMUR, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vmur, ok := s.vmurs[id]
	if !ok {
		return nil, errors.NotFound("unlock request", id.String())
	}
	return clone(vmur), nil
}

func (s *Store) UpdateVMUR(_ context.Context, vmur *v1.VMUR) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.vmurs[vmur.ID]
	if !ok {
		return errors.NotFound("unlock request", vmur.ID.String())
	}
	if err := checkVersion(stored.Version, vmur.Version, "unlock request", vmur.ID); err != nil {
		return err
	}
	vmur.Version++
	s.vmurs[vmur.ID] = clone(vmur)
	return nil
}

func (s *Store) PendingVMURs(_ context.Context, organizationID uuid.UUID) ([]*v1.VMUR, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*v1.VMUR
	for _, vmur := range s.vmurs {
		if vmur.OrganizationID == organizationID && vmur.Status == v1.VMURStatusPending {
			out = append(out, clone(vmur))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *Store) PendingVMURsExpiredBefore(_ context.Context, cutoff time.Time) ([]*v1.VMUR, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*v1.VMUR
	for _, vmur := range s.vmurs {
		if vmur.Status == v1.VMURStatusPending && vmur.ExpiresAt.Before(cutoff) {
			out = append(out, clone(vmur))
		}
	}
	return out, nil
}

// --- helpers ---

func containsStatus(statuses []v1.VisitStatus, status v1.VisitStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func containsRecordStatus(statuses []v1.EVVRecordStatus, status v1.EVVRecordStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func paginate[T any](items []*T, page storage.Page) []*T {
	if page.Offset >= len(items) {
		return nil
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}
