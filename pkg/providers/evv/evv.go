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

// Package evv implements the verification engine: it validates clock-in and
// clock-out events against the visit's geofence and the state's compliance
// rules, drives the EVV record state machine, and maintains tamper-evident
// integrity digests.
package evv

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/logging"
	"github.com/neighborhood-lab/care-commons/pkg/metrics"
	"github.com/neighborhood-lab/care-commons/pkg/providers/geofence"
	"github.com/neighborhood-lab/care-commons/pkg/storage"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

// Permissions checked at the engine boundary.
const (
	PermissionClockIn  = "evv:clock_in"
	PermissionClockOut = "evv:clock_out"
)

// VisitSource is the injected visit collaborator.
type VisitSource interface {
	GetVisitForEVV(ctx context.Context, visitID uuid.UUID) (*v1.VisitForEVV, error)
	CanClockIn(ctx context.Context, visitID, caregiverID uuid.UUID) (v1.ClockEligibility, error)
	CanClockOut(ctx context.Context, visitID, caregiverID uuid.UUID) (v1.ClockEligibility, error)
	UpdateVisitStatus(ctx context.Context, visitID uuid.UUID, status v1.VisitStatus, evvRecordID uuid.UUID) error
}

// ClientSource is the injected demographic collaborator.
type ClientSource interface {
	GetClientForEVV(ctx context.Context, clientID uuid.UUID) (*v1.ClientForEVV, error)
}

// CaregiverSource is the injected credentialing collaborator.
type CaregiverSource interface {
	GetCaregiverForEVV(ctx context.Context, caregiverID uuid.UUID) (*v1.CaregiverForEVV, error)
	CanProvideService(ctx context.Context, caregiverID uuid.UUID, serviceTypeCode string, clientID uuid.UUID) (v1.ServiceAuthorization, error)
}

// ClockInInput is the boundary input for a clock-in.
type ClockInInput struct {
	VisitID     uuid.UUID
	CaregiverID uuid.UUID
	Event       v1.ClockEvent
}

// AttestationInput is a raw attestation captured at clock-out.
type AttestationInput struct {
	SignerID      uuid.UUID
	SignerName    string
	Type          v1.AttestationType
	SignatureBlob []byte
}

// ClockOutInput is the boundary input for a clock-out.
type ClockOutInput struct {
	EVVRecordID       uuid.UUID
	CaregiverID       uuid.UUID
	Event             v1.ClockEvent
	ClientAttestation *AttestationInput
}

// OverrideEntry selects which time entry a manual override applies to.
type OverrideEntry string

const (
	OverrideClockIn  OverrideEntry = "CLOCK_IN"
	OverrideClockOut OverrideEntry = "CLOCK_OUT"
)

// OverrideInput is the boundary input for a supervisor manual override.
type OverrideInput struct {
	EVVRecordID       uuid.UUID
	Entry             OverrideEntry
	Reason            string
	ReasonCode        string
	SupervisorTitle   string
	ApprovalAuthority string
	Notes             string
}

// Provider is the EVV verification engine.
type Provider struct {
	store      storage.Store
	visits     VisitSource
	clients    ClientSource
	caregivers CaregiverSource
	geofences  *geofence.Provider
	rules      RulesConfig
	clock      clock.Clock
}

func NewProvider(store storage.Store, visits VisitSource, clients ClientSource, caregivers CaregiverSource, geofences *geofence.Provider, rules RulesConfig, clk clock.Clock) *Provider {
	return &Provider{
		store:      store,
		visits:     visits,
		clients:    clients,
		caregivers: caregivers,
		geofences:  geofences,
		rules:      rules,
		clock:      clk,
	}
}

// ClockIn verifies a clock-in event and creates the visit's PENDING EVV
// record. Preconditions are checked in order; the first failure aborts.
func (p *Provider) ClockIn(ctx context.Context, input ClockInInput, actor v1.Principal) (*v1.EVVRecord, error) {
	if err := p.authorizeClockActor(actor, input.CaregiverID, PermissionClockIn); err != nil {
		return nil, err
	}

	eligibility, err := p.visits.CanClockIn(ctx, input.VisitID, input.CaregiverID)
	if err != nil {
		return nil, err
	}
	if !eligibility.Allowed {
		return nil, errors.Validation("CLOCK_IN_NOT_ALLOWED", "visit %s does not allow clock-in: %s", input.VisitID, eligibility.Reason)
	}

	visit, err := p.visits.GetVisitForEVV(ctx, input.VisitID)
	if err != nil {
		return nil, err
	}
	if !visit.Address.HasCoordinates() {
		return nil, errors.Validation("ADDRESS_NOT_GEOCODED", "service address for visit %s has no coordinates", input.VisitID)
	}

	client, err := p.clients.GetClientForEVV(ctx, visit.ClientID)
	if err != nil {
		return nil, err
	}
	stateCode := visit.Address.State
	if stateCode == "" {
		stateCode = client.StateCode
	}
	rules, err := p.rules.ForState(stateCode)
	if err != nil {
		return nil, err
	}

	authorization, err := p.caregivers.CanProvideService(ctx, input.CaregiverID, visit.ServiceTypeCode, visit.ClientID)
	if err != nil {
		return nil, err
	}
	if !authorization.Authorized {
		return nil, errors.Validation("NOT_AUTHORIZED_FOR_SERVICE", "caregiver %s may not provide %s: %s", input.CaregiverID, visit.ServiceTypeCode, authorization.Reason).
			WithDetail("missingCredentials", authorization.MissingCredentials).
			WithDetail("blockedReasons", authorization.BlockedReasons)
	}

	fence, err := p.geofences.EnsureForAddress(ctx, visit.Address, v1.ObjectMeta{
		OrganizationID: visit.OrganizationID,
		CreatedBy:      actor.UserID,
	})
	if err != nil {
		return nil, err
	}

	verification, issues, err := p.verifyEvent(ctx, input.Event, fence, rules, visit, true)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now().UTC()
	record := &v1.EVVRecord{
		ObjectMeta: v1.ObjectMeta{
			ID:             uuid.New(),
			OrganizationID: visit.OrganizationID,
			BranchID:       visit.BranchID,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
			CreatedBy:      actor.UserID,
			UpdatedBy:      actor.UserID,
		},
		VisitID:             input.VisitID,
		ClientID:            visit.ClientID,
		ClientMedicaidID:    client.MedicaidID,
		CaregiverID:         input.CaregiverID,
		ServiceTypeCode:     visit.ServiceTypeCode,
		ServiceAddress:      visit.Address,
		ClockInTime:         input.Event.CapturedAt.UTC(),
		ClockInVerification: verification,
		Status:              v1.EVVRecordStatusPending,
	}
	p.applyIssues(record, issues)
	record.VerificationLevel = DeriveLevel(issues)

	record.IntegrityHash = ComputeIntegrityHash(record)
	checksum, err := ComputeIntegrityChecksum(record)
	if err != nil {
		return nil, err
	}
	record.IntegrityChecksum = checksum

	if err := p.store.CreateEVVRecord(ctx, record); err != nil {
		return nil, err
	}
	metrics.Verifications.WithLabelValues("clock_in", string(record.VerificationLevel)).Inc()
	if err := p.visits.UpdateVisitStatus(ctx, input.VisitID, v1.VisitStatusInProgress, record.ID); err != nil {
		logging.FromContext(ctx).Warnw("clock-in recorded but visit status update failed",
			"visit-id", input.VisitID, "evv-record-id", record.ID, "error", err)
	}
	return record, nil
}

// ClockOut verifies the clock-out event, completes the record, recomputes
// the integrity checksum, and attaches the client attestation if supplied.
func (p *Provider) ClockOut(ctx context.Context, input ClockOutInput, actor v1.Principal) (*v1.EVVRecord, error) {
	if err := p.authorizeClockActor(actor, input.CaregiverID, PermissionClockOut); err != nil {
		return nil, err
	}

	record, err := p.store.GetEVVRecord(ctx, input.EVVRecordID)
	if err != nil {
		return nil, err
	}
	if record.Status != v1.EVVRecordStatusPending {
		return nil, errors.Conflict("ALREADY_COMPLETED", "EVV record %s is %s, only PENDING records can be clocked out", record.ID, record.Status)
	}
	if record.CaregiverID != input.CaregiverID {
		return nil, errors.Validation("CAREGIVER_MISMATCH", "record %s belongs to a different caregiver", record.ID)
	}

	eligibility, err := p.visits.CanClockOut(ctx, record.VisitID, input.CaregiverID)
	if err != nil {
		return nil, err
	}
	if !eligibility.Allowed {
		return nil, errors.Validation("CLOCK_OUT_NOT_ALLOWED", "visit %s does not allow clock-out: %s", record.VisitID, eligibility.Reason)
	}

	clockOutTime := input.Event.CapturedAt.UTC()
	if clockOutTime.Before(record.ClockInTime) {
		return nil, errors.Validation("CLOCK_OUT_BEFORE_IN", "clockOutTime %s precedes clockInTime %s", clockOutTime, record.ClockInTime)
	}

	visit, err := p.visits.GetVisitForEVV(ctx, record.VisitID)
	if err != nil {
		return nil, err
	}
	rules, err := p.rules.ForState(record.ServiceAddress.State)
	if err != nil {
		return nil, err
	}
	fence, err := p.geofences.EnsureForAddress(ctx, record.ServiceAddress, v1.ObjectMeta{
		OrganizationID: record.OrganizationID,
		CreatedBy:      actor.UserID,
	})
	if err != nil {
		return nil, err
	}

	verification, issues, err := p.verifyEvent(ctx, input.Event, fence, rules, visit, false)
	if err != nil {
		return nil, err
	}

	if input.ClientAttestation != nil {
		record.ClientAttestation = p.buildAttestation(input.ClientAttestation)
	} else if rules.RequireClientSignature {
		issues = append(issues, Issue{
			Code:     "MISSING_CLIENT_SIGNATURE",
			Severity: SeverityMedium,
			Message:  "program requires a client attestation at clock-out",
			Flag:     v1.FlagMissingSignature,
		})
	}

	now := p.clock.Now().UTC()
	duration := int(math.Round(clockOutTime.Sub(record.ClockInTime).Seconds() / 60))
	record.ClockOutTime = &clockOutTime
	record.TotalDuration = &duration
	record.ClockOutVerification = &verification
	record.Status = v1.EVVRecordStatusComplete
	record.UpdatedAt = now
	record.UpdatedBy = actor.UserID
	p.applyIssues(record, issues)
	if level := DeriveLevel(issues); worseLevel(level, record.VerificationLevel) {
		record.VerificationLevel = level
	}

	checksum, err := ComputeIntegrityChecksum(record)
	if err != nil {
		return nil, err
	}
	record.IntegrityChecksum = checksum

	if err := p.store.UpdateEVVRecord(ctx, record); err != nil {
		return nil, err
	}
	metrics.Verifications.WithLabelValues("clock_out", string(record.VerificationLevel)).Inc()
	if err := p.visits.UpdateVisitStatus(ctx, record.VisitID, v1.VisitStatusCompleted, record.ID); err != nil {
		logging.FromContext(ctx).Warnw("clock-out recorded but visit status update failed",
			"visit-id", record.VisitID, "evv-record-id", record.ID, "error", err)
	}
	return record, nil
}

// ApplyManualOverride lets a supervisor force a failed verification to
// pass. Original compliance flags stay; MANUAL_OVERRIDE and AMENDED are
// appended.
func (p *Provider) ApplyManualOverride(ctx context.Context, input OverrideInput, supervisor v1.Principal) (*v1.EVVRecord, error) {
	if !supervisor.IsSupervisor() {
		return nil, errors.Permission("SUPERVISOR_REQUIRED", "manual override requires a supervisor role")
	}
	if input.Reason == "" || input.ReasonCode == "" {
		return nil, errors.Validation("MISSING_REASON", "manual override requires a reason and reason code")
	}

	record, err := p.store.GetEVVRecord(ctx, input.EVVRecordID)
	if err != nil {
		return nil, err
	}

	override := &v1.ManualOverride{
		OverrideBy:        supervisor.UserID,
		OverrideAt:        p.clock.Now().UTC(),
		Reason:            input.Reason,
		ReasonCode:        input.ReasonCode,
		SupervisorName:    supervisor.Name,
		SupervisorTitle:   input.SupervisorTitle,
		ApprovalAuthority: input.ApprovalAuthority,
		Notes:             input.Notes,
	}

	switch input.Entry {
	case OverrideClockIn:
		record.ClockInVerification.Override = override
		record.ClockInVerification.Status = "OVERRIDDEN"
		record.ClockInVerification.VerificationPassed = true
	case OverrideClockOut:
		if record.ClockOutVerification == nil {
			return nil, errors.Validation("NO_CLOCK_OUT", "record %s has no clock-out entry to override", record.ID)
		}
		record.ClockOutVerification.Override = override
		record.ClockOutVerification.Status = "OVERRIDDEN"
		record.ClockOutVerification.VerificationPassed = true
	default:
		return nil, errors.Validation("INVALID_ENTRY", "override entry must be CLOCK_IN or CLOCK_OUT, got %q", input.Entry)
	}

	record.AddFlag(v1.FlagManualOverride)
	record.AddFlag(v1.FlagAmended)
	record.UpdatedAt = p.clock.Now().UTC()
	record.UpdatedBy = supervisor.UserID

	checksum, err := ComputeIntegrityChecksum(record)
	if err != nil {
		return nil, err
	}
	record.IntegrityChecksum = checksum

	if err := p.store.UpdateEVVRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RecordByVisit loads the EVV record for a visit.
func (p *Provider) RecordByVisit(ctx context.Context, visitID uuid.UUID) (*v1.EVVRecord, error) {
	return p.store.GetEVVRecordByVisit(ctx, visitID)
}

// Search runs a paginated EVV record query with whitelisted sorting.
func (p *Provider) Search(ctx context.Context, search storage.EVVRecordSearch) ([]*v1.EVVRecord, int64, error) {
	if err := search.Sort.Validate(); err != nil {
		return nil, 0, err
	}
	search.Page = search.Page.Normalize()
	return p.store.SearchEVVRecords(ctx, search)
}

// CreateGeofence persists an explicitly configured geofence.
func (p *Provider) CreateGeofence(ctx context.Context, fence *v1.Geofence) error {
	return p.geofences.Create(ctx, fence)
}

// verifyEvent runs the geofence check and state rules over one clock event
// and materializes the LocationVerification.
func (p *Provider) verifyEvent(ctx context.Context, event v1.ClockEvent, fence *v1.Geofence, rules StateRules, visit *v1.VisitForEVV, isClockIn bool) (v1.LocationVerification, []Issue, error) {
	check, err := p.geofences.Check(ctx, fence, event.Latitude, event.Longitude, event.AccuracyM, rules.GeofenceToleranceM)
	if err != nil {
		return v1.LocationVerification{}, nil, err
	}

	var issues []Issue

	if event.MockLocationDetected {
		issues = append(issues, Issue{
			Code:                     "MOCK_LOCATION",
			Severity:                 SeverityCritical,
			Message:                  "device reports a mock location provider",
			Flag:                     v1.FlagLocationSuspicious,
			RequiresSupervisorReview: true,
		})
	}

	if !check.WithinGeofence {
		issues = append(issues, Issue{
			Code:                     "GEOFENCE_VIOLATION",
			Severity:                 SeverityHigh,
			Message:                  "event outside the effective geofence radius",
			Flag:                     v1.FlagGeofenceViolation,
			RequiresSupervisorReview: true,
		})
	}

	allowed, warn := rules.MethodAllowed(event.Method)
	switch {
	case event.Method == v1.MethodManual:
		issues = append(issues, Issue{
			Code:                     "MANUAL_METHOD",
			Severity:                 SeverityCritical,
			Message:                  "manual entry is never a verification method by itself",
			RequiresSupervisorReview: true,
		})
	case !allowed:
		issues = append(issues, Issue{
			Code:     "METHOD_NOT_ALLOWED",
			Severity: SeverityHigh,
			Message:  "capture method " + string(event.Method) + " is not permitted in " + rules.StateCode,
		})
	case warn:
		issues = append(issues, Issue{
			Code:     "TELEPHONY_WARNING",
			Severity: SeverityLow,
			Message:  "telephony capture accepted with warning",
		})
	}

	if rules.MaxAccuracyM > 0 && event.AccuracyM > rules.MaxAccuracyM {
		issues = append(issues, Issue{
			Code:     "LOW_GPS_ACCURACY",
			Severity: SeverityMedium,
			Message:  "reported GPS accuracy exceeds the state maximum",
		})
	}

	if isClockIn && rules.ClockInGraceMinutes > 0 {
		if earliest, ok := p.earliestClockIn(visit, rules.ClockInGraceMinutes); ok && event.CapturedAt.Before(earliest) {
			issues = append(issues, Issue{
				Code:     "EARLY_CLOCK_IN",
				Severity: SeverityMedium,
				Message:  "clock-in earlier than the allowed grace window",
			})
		}
	}

	passed := true
	var failureReasons []string
	for _, issue := range issues {
		if issue.Severity == SeverityHigh || issue.Severity == SeverityCritical {
			passed = false
			failureReasons = append(failureReasons, issue.Message)
		}
	}

	verification := v1.LocationVerification{
		Latitude:             event.Latitude,
		Longitude:            event.Longitude,
		AccuracyM:            event.AccuracyM,
		CapturedAt:           event.CapturedAt.UTC(),
		TimestampSource:      event.TimestampSource,
		Method:               event.Method,
		LocationSource:       event.LocationSource,
		DistanceFromAddress:  check.DistanceM,
		WithinGeofence:       check.WithinGeofence,
		MockLocationDetected: event.MockLocationDetected,
		Device:               event.Device,
		VerificationPassed:   passed,
		FailureReasons:       failureReasons,
	}
	return verification, issues, nil
}

// earliestClockIn resolves the scheduled start minus the grace window in
// the visit's timezone.
func (p *Provider) earliestClockIn(visit *v1.VisitForEVV, graceMinutes int) (time.Time, bool) {
	startMinutes, err := timeutil.ParseClock(visit.ScheduledStartTime)
	if err != nil {
		return time.Time{}, false
	}
	loc, err := time.LoadLocation(visit.Timezone)
	if err != nil {
		return time.Time{}, false
	}
	start := visit.ServiceDate.At(startMinutes, loc)
	return start.Add(-time.Duration(graceMinutes) * time.Minute), true
}

func (p *Provider) applyIssues(record *v1.EVVRecord, issues []Issue) {
	now := p.clock.Now().UTC()
	for _, issue := range issues {
		if issue.Flag != "" {
			record.AddFlag(issue.Flag)
		} else {
			// Issues without a compliance flag still land on the record as
			// exception events.
			record.ExceptionEvents = append(record.ExceptionEvents, v1.ExceptionEvent{
				OccurredAt: now,
				Code:       issue.Code,
				Details:    issue.Message,
			})
		}
		if issue.RequiresSupervisorReview {
			record.RequiresSupervisorReview = true
		}
	}
	if len(record.ComplianceFlags) == 0 {
		record.AddFlag(v1.FlagCompliant)
	}
}

func (p *Provider) buildAttestation(input *AttestationInput) *v1.Attestation {
	attestation := &v1.Attestation{
		SignerID:   input.SignerID,
		SignerName: input.SignerName,
		SignedAt:   p.clock.Now().UTC(),
		Type:       input.Type,
	}
	if len(input.SignatureBlob) > 0 {
		attestation.SignatureHash = HashSignatureBlob(input.SignatureBlob)
	}
	return attestation
}

// authorizeClockActor enforces the permission and the caregiver identity
// match; supervisors may act on a caregiver's behalf.
func (p *Provider) authorizeClockActor(actor v1.Principal, caregiverID uuid.UUID, permission string) error {
	if !actor.HasPermission(permission) {
		return errors.Permission("MISSING_PERMISSION", "actor lacks %s", permission)
	}
	if actor.UserID != caregiverID && !actor.IsSupervisor() {
		return errors.Permission("IDENTITY_MISMATCH", "only supervisors may clock on behalf of another caregiver")
	}
	return nil
}

func worseLevel(candidate, current v1.VerificationLevel) bool {
	rank := map[v1.VerificationLevel]int{
		v1.VerificationLevelFull:      0,
		v1.VerificationLevelPartial:   1,
		v1.VerificationLevelException: 2,
	}
	return rank[candidate] > rank[current]
}
