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

// VMURStatus is the approval lifecycle of a Visit Maintenance Unlock
// Request.
type VMURStatus string

const (
	VMURStatusPending  VMURStatus = "PENDING"
	VMURStatusApproved VMURStatus = "APPROVED"
	VMURStatusDenied   VMURStatus = "DENIED"
	VMURStatusExpired  VMURStatus = "EXPIRED"
)

// VMURReasonCode is the closed HHSC-approved reason-code set. Wire values.
type VMURReasonCode string

const (
	VMURReasonDeviceMalfunction     VMURReasonCode = "DEVICE_MALFUNCTION"
	VMURReasonGPSUnavailable        VMURReasonCode = "GPS_UNAVAILABLE"
	VMURReasonNetworkOutage         VMURReasonCode = "NETWORK_OUTAGE"
	VMURReasonAppError              VMURReasonCode = "APP_ERROR"
	VMURReasonSystemDowntime        VMURReasonCode = "SYSTEM_DOWNTIME"
	VMURReasonRuralPoorSignal       VMURReasonCode = "RURAL_POOR_SIGNAL"
	VMURReasonServiceLocationChange VMURReasonCode = "SERVICE_LOCATION_CHANGE"
	VMURReasonEmergencyEvacuation   VMURReasonCode = "EMERGENCY_EVACUATION"
	VMURReasonHospitalTransport     VMURReasonCode = "HOSPITAL_TRANSPORT"
	VMURReasonForgotToClock         VMURReasonCode = "FORGOT_TO_CLOCK"
	VMURReasonTrainingNewStaff      VMURReasonCode = "TRAINING_NEW_STAFF"
	VMURReasonIncorrectClockTime    VMURReasonCode = "INCORRECT_CLOCK_TIME"
	VMURReasonDuplicateEntry        VMURReasonCode = "DUPLICATE_ENTRY"
	VMURReasonOtherApproved         VMURReasonCode = "OTHER_APPROVED"
)

var approvedVMURReasonCodes = map[VMURReasonCode]struct{}{
	VMURReasonDeviceMalfunction:     {},
	VMURReasonGPSUnavailable:        {},
	VMURReasonNetworkOutage:         {},
	VMURReasonAppError:              {},
	VMURReasonSystemDowntime:        {},
	VMURReasonRuralPoorSignal:       {},
	VMURReasonServiceLocationChange: {},
	VMURReasonEmergencyEvacuation:   {},
	VMURReasonHospitalTransport:     {},
	VMURReasonForgotToClock:         {},
	VMURReasonTrainingNewStaff:      {},
	VMURReasonIncorrectClockTime:    {},
	VMURReasonDuplicateEntry:        {},
	VMURReasonOtherApproved:         {},
}

// IsApproved reports whether the reason code is in the HHSC-approved set.
func (c VMURReasonCode) IsApproved() bool {
	_, ok := approvedVMURReasonCodes[c]
	return ok
}

// VMURCorrection is the snapshot of the fields a VMUR may amend on an EVV
// record. Nil fields are left untouched on approval.
type VMURCorrection struct {
	ClockInTime       *time.Time `json:"clockInTime,omitempty"`
	ClockOutTime      *time.Time `json:"clockOutTime,omitempty"`
	ClockInLatitude   *float64   `json:"clockInLatitude,omitempty"`
	ClockInLongitude  *float64   `json:"clockInLongitude,omitempty"`
	ClockOutLatitude  *float64   `json:"clockOutLatitude,omitempty"`
	ClockOutLongitude *float64   `json:"clockOutLongitude,omitempty"`
}

// VMUR is a Visit Maintenance Unlock Request, the Texas HHSC workflow for
// amending EVV records 30 or more days old. Expires 30 days after request.
type VMUR struct {
	ObjectMeta

	EVVRecordID   uuid.UUID      `json:"evvRecordId"`
	RequestedBy   uuid.UUID      `json:"requestedBy"`
	RequestedName string         `json:"requestedName"`
	RequestedAt   time.Time      `json:"requestedAt"`
	ReasonCode    VMURReasonCode `json:"reasonCode"`
	ReasonDetails string         `json:"reasonDetails,omitempty"`

	Status       VMURStatus `json:"status"`
	ApprovedBy   *uuid.UUID `json:"approvedBy,omitempty"`
	DecidedAt    *time.Time `json:"decidedAt,omitempty"`
	DenialReason string     `json:"denialReason,omitempty"`

	OriginalData  VMURCorrection `json:"originalData"`
	CorrectedData VMURCorrection `json:"correctedData"`
	Changes       []string       `json:"changes"`

	ExpiresAt time.Time `json:"expiresAt"`
}
