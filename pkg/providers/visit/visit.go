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

// Package visit implements the visit lifecycle manager: creation with
// conflict detection, the guarded status state machine, caregiver
// assignment, and schedule generation from service patterns.
package visit

import (
	"context"
	"fmt"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/logging"
	"github.com/neighborhood-lab/care-commons/pkg/metrics"
	"github.com/neighborhood-lab/care-commons/pkg/providers/address"
	"github.com/neighborhood-lab/care-commons/pkg/providers/availability"
	"github.com/neighborhood-lab/care-commons/pkg/scheduling"
	"github.com/neighborhood-lab/care-commons/pkg/storage"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

// Provider is the visit lifecycle manager.
type Provider struct {
	store        storage.Store
	addresses    *address.CachedProvider
	availability *availability.Engine
	clock        clock.Clock
}

func NewProvider(store storage.Store, addresses *address.CachedProvider, availabilityEngine *availability.Engine, clk clock.Clock) *Provider {
	return &Provider{
		store:        store,
		addresses:    addresses,
		availability: availabilityEngine,
		clock:        clk,
	}
}

// GenerateOptions tunes schedule generation from a pattern.
type GenerateOptions struct {
	AutoAssign   bool
	SkipHolidays bool
}

// Create validates and persists a new visit, assigning its visit number and
// rejecting any overlap with the client's existing non-terminal visits on
// the same service date.
func (p *Provider) Create(ctx context.Context, visit *v1.Visit, actor v1.Principal) (*v1.Visit, error) {
	if err := p.validateNew(visit); err != nil {
		return nil, err
	}
	if err := p.checkConflicts(ctx, visit); err != nil {
		return nil, err
	}

	now := p.clock.Now().UTC()
	if visit.ID == uuid.Nil {
		visit.ID = uuid.New()
	}
	visit.CreatedAt = now
	visit.UpdatedAt = now
	visit.CreatedBy = actor.UserID
	visit.UpdatedBy = actor.UserID
	visit.Version = 1
	if visit.Status == "" {
		visit.Status = v1.VisitStatusScheduled
	}
	if visit.BillingStatus == "" {
		visit.BillingStatus = v1.BillingStatusUnbilled
	}

	number, err := p.nextVisitNumber(ctx, visit.OrganizationID, visit.ServiceDate.Year)
	if err != nil {
		return nil, err
	}
	visit.VisitNumber = number

	visit.StatusHistory = append(visit.StatusHistory, v1.StatusChange{
		From:      visit.Status,
		To:        visit.Status,
		Timestamp: now,
		ActorID:   actor.UserID,
		Reason:    "created",
	})

	if err := p.store.CreateVisit(ctx, visit); err != nil {
		return nil, err
	}
	origin := "manual"
	if visit.PatternID != nil {
		origin = "pattern"
	}
	metrics.VisitsCreated.WithLabelValues(origin).Inc()
	return visit, nil
}

// Get loads one visit.
func (p *Provider) Get(ctx context.Context, id uuid.UUID) (*v1.Visit, error) {
	return p.store.GetVisit(ctx, id)
}

// Search runs a paginated visit query with whitelisted sorting.
func (p *Provider) Search(ctx context.Context, search storage.VisitSearch) ([]*v1.Visit, int64, error) {
	if err := search.Sort.Validate(); err != nil {
		return nil, 0, err
	}
	search.Page = search.Page.Normalize()
	return p.store.SearchVisits(ctx, search)
}

// Unassigned lists visits awaiting a caregiver in the window.
func (p *Provider) Unassigned(ctx context.Context, organizationID uuid.UUID, from, to timeutil.Date) ([]*v1.Visit, error) {
	return p.store.UnassignedVisits(ctx, organizationID, from, to)
}

// UpdateStatus applies one guarded state-machine transition, appending a
// status-history entry. Automatic marks system-triggered transitions (EVV
// events, submission engine). Writes are conditioned on the entity version
// and retried once on a concurrent-write conflict.
func (p *Provider) UpdateStatus(ctx context.Context, visitID uuid.UUID, to v1.VisitStatus, actor v1.Principal, reason, notes string, automatic bool) (*v1.Visit, error) {
	var updated *v1.Visit
	err := retry.Do(func() error {
		visit, err := p.store.GetVisit(ctx, visitID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(visit.Status, to); err != nil {
			return err
		}
		p.applyTransition(visit, to, actor, reason, notes, automatic)
		if err := p.store.UpdateVisit(ctx, visit); err != nil {
			return err
		}
		updated = visit
		return nil
	},
		retry.Attempts(2),
		retry.LastErrorOnly(true),
		retry.RetryIf(errors.IsConflict),
	)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Complete marks an in-progress (or paused) visit COMPLETED and readies it
// for billing.
func (p *Provider) Complete(ctx context.Context, visitID uuid.UUID, actor v1.Principal, automatic bool) (*v1.Visit, error) {
	visit, err := p.UpdateStatus(ctx, visitID, v1.VisitStatusCompleted, actor, "visit completed", "", automatic)
	if err != nil {
		return nil, err
	}
	visit.BillingStatus = v1.BillingStatusReady
	if err := p.store.UpdateVisit(ctx, visit); err != nil {
		return nil, err
	}
	return visit, nil
}

// AssignCaregiver attaches a caregiver to a visit after an availability
// check, transitioning UNASSIGNED/SCHEDULED visits to ASSIGNED. Re-assigning
// an already-ASSIGNED visit replaces the assignment without a transition.
func (p *Provider) AssignCaregiver(ctx context.Context, visitID, caregiverID uuid.UUID, method v1.AssignmentMethod, actor v1.Principal) (*v1.Visit, error) {
	visit, err := p.store.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	switch visit.Status {
	case v1.VisitStatusUnassigned, v1.VisitStatusScheduled, v1.VisitStatusAssigned:
	default:
		return nil, errors.Validation("NOT_ASSIGNABLE", "visit %s in status %s cannot be assigned", visitID, visit.Status)
	}

	available, err := p.availability.IsAvailable(ctx, caregiverID, visit.ServiceDate, visit.ScheduledStartTime, visit.ScheduledEndTime, true)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, errors.Conflict("CAREGIVER_UNAVAILABLE", "caregiver %s is not available on %s %s-%s",
			caregiverID, visit.ServiceDate, visit.ScheduledStartTime, visit.ScheduledEndTime).
			WithDetail("caregiverId", caregiverID.String())
	}

	now := p.clock.Now().UTC()
	visit.Assignment = &v1.Assignment{
		CaregiverID: caregiverID,
		Method:      method,
		AssignedBy:  actor.UserID,
		AssignedAt:  now,
	}
	if visit.Status != v1.VisitStatusAssigned {
		p.applyTransition(visit, v1.VisitStatusAssigned, actor, fmt.Sprintf("assigned via %s", method), "", false)
	} else {
		visit.UpdatedAt = now
		visit.UpdatedBy = actor.UserID
	}
	if err := p.store.UpdateVisit(ctx, visit); err != nil {
		return nil, err
	}
	return visit, nil
}

// GenerateScheduleFromPattern expands the pattern over the window and
// creates one UNASSIGNED visit per date. A conflicting date or a failed
// auto-assignment is logged and skipped; generation continues.
func (p *Provider) GenerateScheduleFromPattern(ctx context.Context, patternID uuid.UUID, from, to timeutil.Date, opts GenerateOptions, actor v1.Principal) ([]*v1.Visit, error) {
	log := logging.FromContext(ctx)

	pattern, err := p.store.GetPattern(ctx, patternID)
	if err != nil {
		return nil, err
	}

	expandOpts := scheduling.Options{SkipHolidays: opts.SkipHolidays}
	if opts.SkipHolidays {
		holidayDates, err := p.store.HolidayDates(ctx, pattern.OrganizationID, pattern.BranchID, from, to)
		if err != nil {
			return nil, err
		}
		expandOpts.Holidays = scheduling.NewHolidayCalendar(holidayDates)
	}

	dates, err := scheduling.Expand(pattern, from, to, expandOpts)
	if err != nil {
		return nil, err
	}

	serviceAddress, err := p.addresses.GetClientAddress(ctx, pattern.ClientID)
	if err != nil {
		return nil, err
	}

	endTime, err := timeutil.AddClock(pattern.Rule.StartTime, pattern.DurationMinutes)
	if err != nil {
		return nil, err
	}

	var created []*v1.Visit
	for _, date := range dates {
		visit := &v1.Visit{
			ObjectMeta: v1.ObjectMeta{
				OrganizationID: pattern.OrganizationID,
				BranchID:       pattern.BranchID,
			},
			PatternID:              &pattern.ID,
			ClientID:               pattern.ClientID,
			Type:                   v1.VisitTypeScheduled,
			ServiceDate:            date,
			ScheduledStartTime:     pattern.Rule.StartTime,
			ScheduledEndTime:       endTime,
			ScheduledDuration:      pattern.DurationMinutes,
			Timezone:               pattern.Rule.Timezone,
			ServiceTypeCode:        pattern.ServiceTypeCode,
			Address:                serviceAddress,
			RequiredSkills:         pattern.RequiredSkills,
			RequiredCertifications: pattern.RequiredCertifications,
			Status:                 v1.VisitStatusUnassigned,
		}
		persisted, err := p.Create(ctx, visit, actor)
		if err != nil {
			if errors.IsConflict(err) {
				log.Warnw("skipping conflicting visit date", "pattern-id", patternID, "date", date, "error", err)
				continue
			}
			return created, err
		}
		created = append(created, persisted)

		if opts.AutoAssign {
			p.autoAssign(ctx, persisted, pattern, actor)
		}
	}
	return created, nil
}

// autoAssign tries the pattern's preferred caregivers in order, stopping at
// the first success. Per-caregiver failures are swallowed so generation is
// never aborted by a single assignment failure.
func (p *Provider) autoAssign(ctx context.Context, visit *v1.Visit, pattern *v1.ServicePattern, actor v1.Principal) {
	log := logging.FromContext(ctx)
	blocked := make(map[uuid.UUID]struct{}, len(pattern.BlockedCaregiverIDs))
	for _, id := range pattern.BlockedCaregiverIDs {
		blocked[id] = struct{}{}
	}
	for _, caregiverID := range pattern.PreferredCaregiverIDs {
		if _, isBlocked := blocked[caregiverID]; isBlocked {
			continue
		}
		if _, err := p.AssignCaregiver(ctx, visit.ID, caregiverID, v1.AssignmentMethodPreferred, actor); err != nil {
			log.Debugw("preferred caregiver assignment failed, trying next",
				"visit-id", visit.ID, "caregiver-id", caregiverID, "error", err)
			continue
		}
		return
	}
}

func (p *Provider) applyTransition(visit *v1.Visit, to v1.VisitStatus, actor v1.Principal, reason, notes string, automatic bool) {
	now := p.clock.Now().UTC()
	visit.StatusHistory = append(visit.StatusHistory, v1.StatusChange{
		From:      visit.Status,
		To:        to,
		Timestamp: now,
		ActorID:   actor.UserID,
		Reason:    reason,
		Notes:     notes,
		Automatic: automatic,
	})
	visit.Status = to
	visit.UpdatedAt = now
	visit.UpdatedBy = actor.UserID
	metrics.VisitTransitions.WithLabelValues(string(to)).Inc()
}

func (p *Provider) validateNew(visit *v1.Visit) error {
	if visit.ClientID == uuid.Nil {
		return errors.Validation("MISSING_CLIENT", "visit requires a client id")
	}
	if visit.OrganizationID == uuid.Nil {
		return errors.Validation("MISSING_ORGANIZATION", "visit requires an organization id")
	}
	interval, err := visit.ScheduledInterval()
	if err != nil {
		return errors.Validation("INVALID_TIMES", "%v", err)
	}
	// Overnight visits have no same-day representation; they must be split
	// into two visits by the caller.
	if interval.Start >= interval.End {
		return errors.Validation("INVALID_TIMES", "scheduledStartTime %s must be before scheduledEndTime %s within the same day",
			visit.ScheduledStartTime, visit.ScheduledEndTime)
	}
	if visit.ScheduledDuration == 0 {
		visit.ScheduledDuration = interval.Duration()
	}
	if visit.ServiceDate.IsZero() {
		return errors.Validation("MISSING_SERVICE_DATE", "visit requires a service date")
	}
	return nil
}

// checkConflicts rejects any overlap with the client's same-date visits in a
// non-terminal schedulable status, comparing half-open minute intervals.
func (p *Provider) checkConflicts(ctx context.Context, visit *v1.Visit) error {
	existing, err := p.store.VisitsByClientAndDate(ctx, visit.ClientID, visit.ServiceDate, v1.ConflictableVisitStatuses)
	if err != nil {
		return err
	}
	requested, err := visit.ScheduledInterval()
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == visit.ID {
			continue
		}
		interval, err := other.ScheduledInterval()
		if err != nil {
			continue
		}
		if interval.Overlaps(requested) {
			return errors.Conflict("VISIT_OVERLAP", "client already has visit %s from %s to %s on %s",
				other.VisitNumber, other.ScheduledStartTime, other.ScheduledEndTime, other.ServiceDate).
				WithDetail("conflictingVisitId", other.ID.String())
		}
	}
	return nil
}

// nextVisitNumber renders the per-org per-year sequence as V{YYYY}-{NNNNNN}.
func (p *Provider) nextVisitNumber(ctx context.Context, organizationID uuid.UUID, year int) (string, error) {
	sequence, err := p.store.NextVisitSequence(ctx, organizationID, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("V%04d-%06d", year, sequence), nil
}
