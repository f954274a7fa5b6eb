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

// Package vmur implements the Texas HHSC Visit Maintenance Unlock Request
// workflow: the only path for amending EVV records past the lock age.
package vmur

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/logging"
	"github.com/neighborhood-lab/care-commons/pkg/providers/evv"
	"github.com/neighborhood-lab/care-commons/pkg/storage"
)

// ExpiryDays is how long an unlock request stays actionable.
const ExpiryDays = 30

// Resubmitter re-delivers a record to its aggregators after an approved
// amendment. *submission.Engine satisfies it.
type Resubmitter interface {
	SubmitRecord(ctx context.Context, evvRecordID uuid.UUID) ([]*v1.AggregatorSubmission, error)
}

// CreateInput is the boundary input for requesting an unlock.
type CreateInput struct {
	EVVRecordID   uuid.UUID
	ReasonCode    v1.VMURReasonCode
	ReasonDetails string
	Correction    v1.VMURCorrection
}

// Provider implements the VMUR workflow.
type Provider struct {
	store       storage.Store
	rules       evv.RulesConfig
	resubmitter Resubmitter
	clock       clock.Clock
}

func NewProvider(store storage.Store, rules evv.RulesConfig, resubmitter Resubmitter, clk clock.Clock) *Provider {
	return &Provider{store: store, rules: rules, resubmitter: resubmitter, clock: clk}
}

// Create opens a PENDING unlock request against a locked record. The
// record's state program must mandate the VMUR workflow, the record must
// have aged past the lock threshold, and the correction must actually
// change something.
func (p *Provider) Create(ctx context.Context, input CreateInput, actor v1.Principal) (*v1.VMUR, error) {
	if !input.ReasonCode.IsApproved() {
		return nil, errors.Validation("INVALID_REASON_CODE", "reason code %q is not in the approved set", input.ReasonCode)
	}

	record, err := p.store.GetEVVRecord(ctx, input.EVVRecordID)
	if err != nil {
		return nil, err
	}
	rules, err := p.rules.ForState(record.ServiceAddress.State)
	if err != nil {
		return nil, err
	}
	if rules.VMURRequiredAfterDays == 0 {
		return nil, errors.Validation("VMUR_NOT_APPLICABLE", "state %s does not use the unlock request workflow; amend the record directly", record.ServiceAddress.State)
	}

	now := p.clock.Now().UTC()
	if age := record.AgeDays(now); age < rules.VMURRequiredAfterDays {
		return nil, errors.Validation("RECORD_NOT_LOCKED", "record %s is %d days old; records younger than %d days are amended directly", record.ID, age, rules.VMURRequiredAfterDays)
	}

	original := snapshotCorrection(record)
	corrected := mergeCorrection(original, input.Correction)

	originalHash, err := hashstructure.Hash(original, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, err
	}
	correctedHash, err := hashstructure.Hash(corrected, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, err
	}
	if originalHash == correctedHash {
		return nil, errors.Validation("NO_CHANGES", "correction for record %s changes nothing", record.ID)
	}

	request := &v1.VMUR{
		ObjectMeta: v1.ObjectMeta{
			ID:             uuid.New(),
			OrganizationID: record.OrganizationID,
			BranchID:       record.BranchID,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
			CreatedBy:      actor.UserID,
			UpdatedBy:      actor.UserID,
		},
		EVVRecordID:   record.ID,
		RequestedBy:   actor.UserID,
		RequestedName: actor.Name,
		RequestedAt:   now,
		ReasonCode:    input.ReasonCode,
		ReasonDetails: input.ReasonDetails,
		Status:        v1.VMURStatusPending,
		OriginalData:  original,
		CorrectedData: corrected,
		Changes:       describeChanges(original, corrected),
		ExpiresAt:     now.AddDate(0, 0, ExpiryDays),
	}
	if err := p.store.CreateVMUR(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// Approve applies the correction to the record, marks it AMENDED, and
// schedules resubmission to the aggregators.
func (p *Provider) Approve(ctx context.Context, vmurID uuid.UUID, supervisor v1.Principal) (*v1.VMUR, error) {
	request, err := p.decidable(ctx, vmurID, supervisor)
	if err != nil {
		return nil, err
	}

	record, err := p.store.GetEVVRecord(ctx, request.EVVRecordID)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now().UTC()
	applyCorrection(record, request.CorrectedData)
	record.Status = v1.EVVRecordStatusAmended
	record.AddFlag(v1.FlagAmended)
	record.PayorSubmission.SubmittedToAggregator = false
	record.PayorSubmission.SubmittedAt = nil
	record.UpdatedAt = now
	record.UpdatedBy = supervisor.UserID

	checksum, err := evv.ComputeIntegrityChecksum(record)
	if err != nil {
		return nil, err
	}
	record.IntegrityChecksum = checksum

	if err := p.store.UpdateEVVRecord(ctx, record); err != nil {
		return nil, err
	}

	request.Status = v1.VMURStatusApproved
	request.ApprovedBy = &supervisor.UserID
	request.DecidedAt = &now
	request.UpdatedAt = now
	request.UpdatedBy = supervisor.UserID
	if err := p.store.UpdateVMUR(ctx, request); err != nil {
		return nil, err
	}

	if p.resubmitter != nil {
		if _, err := p.resubmitter.SubmitRecord(ctx, record.ID); err != nil {
			logging.FromContext(ctx).Warnw("amended record resubmission failed, retry sweep will pick it up",
				"evv-record-id", record.ID, "error", err)
		}
	}
	return request, nil
}

// Deny closes the request without touching the record.
func (p *Provider) Deny(ctx context.Context, vmurID uuid.UUID, reason string, supervisor v1.Principal) (*v1.VMUR, error) {
	if reason == "" {
		return nil, errors.Validation("MISSING_DENIAL_REASON", "denying an unlock request requires a reason")
	}
	request, err := p.decidable(ctx, vmurID, supervisor)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now().UTC()
	request.Status = v1.VMURStatusDenied
	request.ApprovedBy = &supervisor.UserID
	request.DecidedAt = &now
	request.DenialReason = reason
	request.UpdatedAt = now
	request.UpdatedBy = supervisor.UserID
	if err := p.store.UpdateVMUR(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// Get loads one unlock request.
func (p *Provider) Get(ctx context.Context, vmurID uuid.UUID) (*v1.VMUR, error) {
	return p.store.GetVMUR(ctx, vmurID)
}

// Pending lists an organization's open requests.
func (p *Provider) Pending(ctx context.Context, organizationID uuid.UUID) ([]*v1.VMUR, error) {
	return p.store.PendingVMURs(ctx, organizationID)
}

// ExpireOld flips PENDING requests past their expiry to EXPIRED. One row
// failing never stops the sweep.
func (p *Provider) ExpireOld(ctx context.Context) (int, error) {
	now := p.clock.Now().UTC()
	stale, err := p.store.PendingVMURsExpiredBefore(ctx, now)
	if err != nil {
		return 0, err
	}

	var errs error
	expired := 0
	for _, request := range stale {
		request.Status = v1.VMURStatusExpired
		request.UpdatedAt = now
		if err := p.store.UpdateVMUR(ctx, request); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		expired++
	}
	if expired > 0 {
		logging.FromContext(ctx).Infow("expired stale unlock requests", "count", expired)
	}
	return expired, errs
}

// decidable loads a request and checks the supervisor gate, the PENDING
// status, and the expiry window.
func (p *Provider) decidable(ctx context.Context, vmurID uuid.UUID, supervisor v1.Principal) (*v1.VMUR, error) {
	if !supervisor.IsSupervisor() {
		return nil, errors.Permission("SUPERVISOR_REQUIRED", "deciding an unlock request requires a supervisor role")
	}
	request, err := p.store.GetVMUR(ctx, vmurID)
	if err != nil {
		return nil, err
	}
	if request.Status != v1.VMURStatusPending {
		return nil, errors.Conflict("ALREADY_DECIDED", "unlock request %s is %s", request.ID, request.Status)
	}
	if p.clock.Now().UTC().After(request.ExpiresAt) {
		return nil, errors.Conflict("REQUEST_EXPIRED", "unlock request %s expired at %s", request.ID, request.ExpiresAt.Format(time.RFC3339))
	}
	return request, nil
}

// snapshotCorrection captures the amendable fields from the live record.
func snapshotCorrection(record *v1.EVVRecord) v1.VMURCorrection {
	clockIn := record.ClockInTime
	inLat := record.ClockInVerification.Latitude
	inLon := record.ClockInVerification.Longitude
	snapshot := v1.VMURCorrection{
		ClockInTime:      &clockIn,
		ClockInLatitude:  &inLat,
		ClockInLongitude: &inLon,
	}
	if record.ClockOutTime != nil {
		out := *record.ClockOutTime
		snapshot.ClockOutTime = &out
	}
	if record.ClockOutVerification != nil {
		outLat := record.ClockOutVerification.Latitude
		outLon := record.ClockOutVerification.Longitude
		snapshot.ClockOutLatitude = &outLat
		snapshot.ClockOutLongitude = &outLon
	}
	return snapshot
}

// mergeCorrection overlays requested changes on the original snapshot.
func mergeCorrection(original, requested v1.VMURCorrection) v1.VMURCorrection {
	merged := original
	if requested.ClockInTime != nil {
		merged.ClockInTime = requested.ClockInTime
	}
	if requested.ClockOutTime != nil {
		merged.ClockOutTime = requested.ClockOutTime
	}
	if requested.ClockInLatitude != nil {
		merged.ClockInLatitude = requested.ClockInLatitude
	}
	if requested.ClockInLongitude != nil {
		merged.ClockInLongitude = requested.ClockInLongitude
	}
	if requested.ClockOutLatitude != nil {
		merged.ClockOutLatitude = requested.ClockOutLatitude
	}
	if requested.ClockOutLongitude != nil {
		merged.ClockOutLongitude = requested.ClockOutLongitude
	}
	return merged
}

func describeChanges(original, corrected v1.VMURCorrection) []string {
	var changes []string
	timeChange := func(field string, before, after *time.Time) {
		if before != nil && after != nil && !before.Equal(*after) {
			changes = append(changes, fmt.Sprintf("%s: %s -> %s", field, before.UTC().Format(time.RFC3339), after.UTC().Format(time.RFC3339)))
		} else if before == nil && after != nil {
			changes = append(changes, fmt.Sprintf("%s: set to %s", field, after.UTC().Format(time.RFC3339)))
		}
	}
	coordChange := func(field string, before, after *float64) {
		if before != nil && after != nil && *before != *after {
			changes = append(changes, fmt.Sprintf("%s: %.6f -> %.6f", field, *before, *after))
		} else if before == nil && after != nil {
			changes = append(changes, fmt.Sprintf("%s: set to %.6f", field, *after))
		}
	}
	timeChange("clockInTime", original.ClockInTime, corrected.ClockInTime)
	timeChange("clockOutTime", original.ClockOutTime, corrected.ClockOutTime)
	coordChange("clockInLatitude", original.ClockInLatitude, corrected.ClockInLatitude)
	coordChange("clockInLongitude", original.ClockInLongitude, corrected.ClockInLongitude)
	coordChange("clockOutLatitude", original.ClockOutLatitude, corrected.ClockOutLatitude)
	coordChange("clockOutLongitude", original.ClockOutLongitude, corrected.ClockOutLongitude)
	return changes
}

// applyCorrection writes the corrected fields back onto the record and
// recomputes the derived duration.
func applyCorrection(record *v1.EVVRecord, corrected v1.VMURCorrection) {
	if corrected.ClockInTime != nil {
		record.ClockInTime = corrected.ClockInTime.UTC()
	}
	if corrected.ClockOutTime != nil {
		out := corrected.ClockOutTime.UTC()
		record.ClockOutTime = &out
	}
	if corrected.ClockInLatitude != nil {
		record.ClockInVerification.Latitude = *corrected.ClockInLatitude
	}
	if corrected.ClockInLongitude != nil {
		record.ClockInVerification.Longitude = *corrected.ClockInLongitude
	}
	if record.ClockOutVerification != nil {
		if corrected.ClockOutLatitude != nil {
			record.ClockOutVerification.Latitude = *corrected.ClockOutLatitude
		}
		if corrected.ClockOutLongitude != nil {
			record.ClockOutVerification.Longitude = *corrected.ClockOutLongitude
		}
	}
	if record.ClockOutTime != nil {
		duration := int(math.Round(record.ClockOutTime.Sub(record.ClockInTime).Seconds() / 60))
		record.TotalDuration = &duration
	}
}
