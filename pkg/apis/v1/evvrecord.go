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
	"time"

	"github.com/google/uuid"
)

// EVVRecordStatus is the verification record lifecycle. The only legal
// transitions are PENDING→COMPLETE (normal clock-out), PENDING→REJECTED
// (abandoned) and COMPLETE→AMENDED (VMUR or plain amendment).
type EVVRecordStatus string

const (
	EVVRecordStatusPending  EVVRecordStatus = "PENDING"
	EVVRecordStatusComplete EVVRecordStatus = "COMPLETE"
	EVVRecordStatusAmended  EVVRecordStatus = "AMENDED"
	EVVRecordStatusRejected EVVRecordStatus = "REJECTED"
)

// VerificationLevel is derived from the severities of verification issues:
// no issues → FULL, any HIGH → PARTIAL, any CRITICAL → EXCEPTION.
type VerificationLevel string

const (
	VerificationLevelFull      VerificationLevel = "FULL"
	VerificationLevelPartial   VerificationLevel = "PARTIAL"
	VerificationLevelException VerificationLevel = "EXCEPTION"
)

// ComplianceFlag is a closed enumerated policy outcome. Wire values.
type ComplianceFlag string

const (
	FlagCompliant          ComplianceFlag = "COMPLIANT"
	FlagGeofenceViolation  ComplianceFlag = "GEOFENCE_VIOLATION"
	FlagTimeGap            ComplianceFlag = "TIME_GAP"
	FlagLocationSuspicious ComplianceFlag = "LOCATION_SUSPICIOUS"
	FlagManualOverride     ComplianceFlag = "MANUAL_OVERRIDE"
	FlagMissingSignature   ComplianceFlag = "MISSING_SIGNATURE"
	FlagLateSubmission     ComplianceFlag = "LATE_SUBMISSION"
	FlagAmended            ComplianceFlag = "AMENDED"
)

// TimestampSource records where an event timestamp originated.
type TimestampSource string

const (
	TimestampSourceDevice  TimestampSource = "DEVICE"
	TimestampSourceNetwork TimestampSource = "NETWORK"
	TimestampSourceServer  TimestampSource = "SERVER"
)

// VerificationMethod is the mechanism a clock event was captured with.
type VerificationMethod string

const (
	MethodGPS       VerificationMethod = "GPS"
	MethodPhone     VerificationMethod = "PHONE"
	MethodBiometric VerificationMethod = "BIOMETRIC"
	MethodFacial    VerificationMethod = "FACIAL"
	MethodManual    VerificationMethod = "MANUAL"
)

// LocationSource is the positioning technology behind the coordinates.
type LocationSource string

const (
	LocationSourceGPSSatellite LocationSource = "GPS_SATELLITE"
	LocationSourceNetwork      LocationSource = "NETWORK"
	LocationSourceFused        LocationSource = "FUSED"
)

// DeviceInfo identifies the capturing device.
type DeviceInfo struct {
	DeviceID string `json:"deviceId"`
	Model    string `json:"model,omitempty"`
	OS       string `json:"os,omitempty"`
}

// LocationVerification is the full outcome of verifying one clock event's
// location against the visit's geofence.
type LocationVerification struct {
	Latitude             float64            `json:"latitude"`
	Longitude            float64            `json:"longitude"`
	AccuracyM            float64            `json:"accuracyM"`
	CapturedAt           time.Time          `json:"capturedAt"`
	TimestampSource      TimestampSource    `json:"timestampSource"`
	Method               VerificationMethod `json:"method"`
	LocationSource       LocationSource     `json:"locationSource"`
	DistanceFromAddress  float64            `json:"distanceFromAddressM"`
	WithinGeofence       bool               `json:"withinGeofence"`
	MockLocationDetected bool               `json:"mockLocationDetected"`
	Device               DeviceInfo         `json:"device"`
	BiometricVerified    *bool              `json:"biometricVerified,omitempty"`
	VerificationPassed   bool               `json:"verificationPassed"`
	FailureReasons       []string           `json:"failureReasons,omitempty"`
	Status               string             `json:"status,omitempty"`
	Override             *ManualOverride    `json:"override,omitempty"`
}

// AttestationType is how an attestation was captured.
type AttestationType string

const (
	AttestationTypeSignature AttestationType = "SIGNATURE"
	AttestationTypeCheckbox  AttestationType = "CHECKBOX"
	AttestationTypeVerbal    AttestationType = "VERBAL"
	AttestationTypeBiometric AttestationType = "BIOMETRIC"
)

// Attestation is a caregiver-, client- or supervisor-supplied assertion
// attached to an EVV record. SignatureHash is the SHA-256 of the signature
// blob when one was captured; the blob itself is stored elsewhere.
type Attestation struct {
	SignerID      uuid.UUID       `json:"signerId"`
	SignerName    string          `json:"signerName"`
	SignedAt      time.Time       `json:"signedAt"`
	Type          AttestationType `json:"type"`
	SignatureHash string          `json:"signatureHash,omitempty"`
}

// PauseEvent is a mid-visit pause/resume pair. ResumedAt is nil while paused.
type PauseEvent struct {
	PausedAt  time.Time  `json:"pausedAt"`
	ResumedAt *time.Time `json:"resumedAt,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// ExceptionEvent notes an anomaly a caregiver or the system recorded during
// the visit.
type ExceptionEvent struct {
	OccurredAt time.Time `json:"occurredAt"`
	Code       string    `json:"code"`
	Details    string    `json:"details,omitempty"`
}

// MidVisitCheck is an optional periodic location check between clock-in and
// clock-out.
type MidVisitCheck struct {
	Verification LocationVerification `json:"verification"`
}

// ManualOverride records a supervisor forcing a verification to pass. The
// original compliance flags are preserved; AMENDED is appended.
type ManualOverride struct {
	OverrideBy        uuid.UUID `json:"overrideBy"`
	OverrideAt        time.Time `json:"overrideAt"`
	Reason            string    `json:"reason"`
	ReasonCode        string    `json:"reasonCode"`
	SupervisorName    string    `json:"supervisorName"`
	SupervisorTitle   string    `json:"supervisorTitle"`
	ApprovalAuthority string    `json:"approvalAuthority"`
	Notes             string    `json:"notes,omitempty"`
}

// PayorSubmissionStatus summarizes the downstream payor state of the record.
type PayorSubmissionStatus struct {
	SubmittedToAggregator bool       `json:"submittedToAggregator"`
	SubmittedAt           *time.Time `json:"submittedAt,omitempty"`
}

// EVVRecord is the verification record for one visit; a visit owns at most
// one. IntegrityHash is computed once at creation over the core identifying
// and clock-in data and never changes; IntegrityChecksum is recomputed on
// every write over the full record excluding the checksum itself.
type EVVRecord struct {
	ObjectMeta

	VisitID     uuid.UUID `json:"visitId"`
	ClientID    uuid.UUID `json:"clientId"`
	CaregiverID uuid.UUID `json:"caregiverId"`

	// ClientMedicaidID is stamped from the client directory at clock-in;
	// aggregators accept it in place of the internal client id.
	ClientMedicaidID string `json:"clientMedicaidId,omitempty"`

	ServiceTypeCode string         `json:"serviceTypeCode"`
	ServiceAddress  ServiceAddress `json:"serviceAddress"`

	ClockInTime   time.Time  `json:"clockInTime"`
	ClockOutTime  *time.Time `json:"clockOutTime,omitempty"`
	TotalDuration *int       `json:"totalDurationMinutes,omitempty"`

	ClockInVerification  LocationVerification  `json:"clockInVerification"`
	ClockOutVerification *LocationVerification `json:"clockOutVerification,omitempty"`
	MidVisitChecks       []MidVisitCheck       `json:"midVisitChecks,omitempty"`
	PauseEvents          []PauseEvent          `json:"pauseEvents,omitempty"`
	ExceptionEvents      []ExceptionEvent      `json:"exceptionEvents,omitempty"`

	Status            EVVRecordStatus   `json:"status"`
	VerificationLevel VerificationLevel `json:"verificationLevel"`
	ComplianceFlags   []ComplianceFlag  `json:"complianceFlags"`

	RequiresSupervisorReview bool `json:"requiresSupervisorReview"`

	IntegrityHash     string `json:"integrityHash"`
	IntegrityChecksum string `json:"integrityChecksum"`

	CaregiverAttestation  *Attestation `json:"caregiverAttestation,omitempty"`
	ClientAttestation     *Attestation `json:"clientAttestation,omitempty"`
	SupervisorAttestation *Attestation `json:"supervisorAttestation,omitempty"`

	PayorSubmission PayorSubmissionStatus `json:"payorSubmission"`
}

// HasFlag reports whether the record carries the given compliance flag.
func (r *EVVRecord) HasFlag(flag ComplianceFlag) bool {
	for _, f := range r.ComplianceFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag appends a compliance flag if not already present, dropping the
// COMPLIANT marker once any non-compliant flag arrives.
func (r *EVVRecord) AddFlag(flag ComplianceFlag) {
	if r.HasFlag(flag) {
		return
	}
	if flag != FlagCompliant {
		flags := r.ComplianceFlags[:0]
		for _, f := range r.ComplianceFlags {
			if f != FlagCompliant {
				flags = append(flags, f)
			}
		}
		r.ComplianceFlags = flags
	}
	r.ComplianceFlags = append(r.ComplianceFlags, flag)
}

// AgeDays is the whole number of days since clock-in.
func (r *EVVRecord) AgeDays(now time.Time) int {
	return int(now.Sub(r.ClockInTime).Hours() / 24)
}
