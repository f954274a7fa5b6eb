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

package visit

import (
	"context"
	"time"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

// This file implements the verification engine's visit collaborator
// interface on top of the lifecycle manager.

// clockInStatuses are the visit states a caregiver may clock in from.
var clockInStatuses = map[v1.VisitStatus]struct{}{
	v1.VisitStatusAssigned:  {},
	v1.VisitStatusConfirmed: {},
	v1.VisitStatusEnRoute:   {},
	v1.VisitStatusArrived:   {},
}

// GetVisitForEVV projects a visit into the narrow view the verification
// engine consumes.
func (p *Provider) GetVisitForEVV(ctx context.Context, visitID uuid.UUID) (*v1.VisitForEVV, error) {
	visit, err := p.store.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	return &v1.VisitForEVV{
		ID:                 visit.ID,
		OrganizationID:     visit.OrganizationID,
		BranchID:           visit.BranchID,
		ClientID:           visit.ClientID,
		CaregiverID:        visit.CaregiverID(),
		ServiceTypeCode:    visit.ServiceTypeCode,
		ServiceDate:        visit.ServiceDate,
		ScheduledStartTime: visit.ScheduledStartTime,
		ScheduledEndTime:   visit.ScheduledEndTime,
		Timezone:           visit.Timezone,
		Address:            visit.Address,
		Status:             visit.Status,
	}, nil
}

// CanClockIn checks the visit is in a clock-in-able state, assigned to this
// caregiver, and not scheduled for a future date.
func (p *Provider) CanClockIn(ctx context.Context, visitID, caregiverID uuid.UUID) (v1.ClockEligibility, error) {
	visit, err := p.store.GetVisit(ctx, visitID)
	if err != nil {
		return v1.ClockEligibility{}, err
	}
	if _, ok := clockInStatuses[visit.Status]; !ok {
		return v1.ClockEligibility{Reason: "visit status " + string(visit.Status) + " does not allow clock-in"}, nil
	}
	if visit.CaregiverID() != caregiverID {
		return v1.ClockEligibility{Reason: "visit is not assigned to this caregiver"}, nil
	}
	loc, err := time.LoadLocation(visit.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if today := timeutil.Today(p.clock.Now(), loc); visit.ServiceDate.After(today) {
		return v1.ClockEligibility{Reason: "visit is scheduled for " + visit.ServiceDate.String() + ", clock-in opens on the service date"}, nil
	}
	return v1.ClockEligibility{Allowed: true}, nil
}

// CanClockOut checks the visit is actively in progress for this caregiver.
func (p *Provider) CanClockOut(ctx context.Context, visitID, caregiverID uuid.UUID) (v1.ClockEligibility, error) {
	visit, err := p.store.GetVisit(ctx, visitID)
	if err != nil {
		return v1.ClockEligibility{}, err
	}
	if visit.Status != v1.VisitStatusInProgress && visit.Status != v1.VisitStatusPaused {
		return v1.ClockEligibility{Reason: "visit status " + string(visit.Status) + " does not allow clock-out"}, nil
	}
	if visit.CaregiverID() != caregiverID {
		return v1.ClockEligibility{Reason: "visit is not assigned to this caregiver"}, nil
	}
	return v1.ClockEligibility{Allowed: true}, nil
}

// UpdateVisitStatus applies an EVV-driven transition, stepping through any
// intermediate states the state machine requires. A clock-in from CONFIRMED
// passes through EN_ROUTE and ARRIVED before IN_PROGRESS.
func (p *Provider) UpdateVisitStatus(ctx context.Context, visitID uuid.UUID, target v1.VisitStatus, evvRecordID uuid.UUID) error {
	system := v1.Principal{Name: "evv-engine"}
	reason := "EVV record " + evvRecordID.String()

	for {
		visit, err := p.store.GetVisit(ctx, visitID)
		if err != nil {
			return err
		}
		if visit.Status == target {
			return nil
		}
		next := target
		if !CanTransition(visit.Status, target) {
			next = stepToward(visit.Status, target)
			if next == "" {
				return ValidateTransition(visit.Status, target)
			}
		}
		if _, err := p.UpdateStatus(ctx, visitID, next, system, reason, "", true); err != nil {
			return err
		}
	}
}

// stepToward returns the next intermediate status on the clock-driven paths,
// or empty when no path exists.
func stepToward(from, target v1.VisitStatus) v1.VisitStatus {
	switch target {
	case v1.VisitStatusInProgress:
		switch from {
		case v1.VisitStatusAssigned, v1.VisitStatusConfirmed:
			return v1.VisitStatusEnRoute
		case v1.VisitStatusEnRoute:
			return v1.VisitStatusArrived
		case v1.VisitStatusArrived, v1.VisitStatusPaused:
			return v1.VisitStatusInProgress
		}
	case v1.VisitStatusCompleted:
		if from == v1.VisitStatusPaused {
			return v1.VisitStatusCompleted
		}
	}
	return ""
}
