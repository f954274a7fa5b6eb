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

	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

// The view types below are the narrow projections the core receives from the
// injected demographic and credentialing providers. They deliberately omit
// everything the engines do not need.

// ClientForEVV is the client projection the verification engine consumes.
type ClientForEVV struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	MedicaidID  string        `json:"medicaidId,omitempty"`
	DateOfBirth timeutil.Date `json:"dateOfBirth"`
	StateCode   string        `json:"stateCode"`
}

// CaregiverForEVV is the caregiver projection the verification engine
// consumes.
type CaregiverForEVV struct {
	ID                        uuid.UUID `json:"id"`
	Name                      string    `json:"name"`
	EmployeeID                string    `json:"employeeId"`
	NPI                       string    `json:"npi,omitempty"`
	Credentials               []string  `json:"credentials"`
	Certifications            []string  `json:"certifications"`
	BackgroundScreeningStatus string    `json:"backgroundScreeningStatus"`
}

// ServiceAuthorization is the caregiver provider's answer to "may this
// caregiver deliver this service to this client".
type ServiceAuthorization struct {
	Authorized         bool     `json:"authorized"`
	Reason             string   `json:"reason,omitempty"`
	MissingCredentials []string `json:"missingCredentials,omitempty"`
	BlockedReasons     []string `json:"blockedReasons,omitempty"`
}

// VisitForEVV is the visit projection the verification engine consumes.
type VisitForEVV struct {
	ID                 uuid.UUID      `json:"id"`
	OrganizationID     uuid.UUID      `json:"organizationId"`
	BranchID           uuid.UUID      `json:"branchId,omitempty"`
	ClientID           uuid.UUID      `json:"clientId"`
	CaregiverID        uuid.UUID      `json:"caregiverId"`
	ServiceTypeCode    string         `json:"serviceTypeCode"`
	ServiceDate        timeutil.Date  `json:"serviceDate"`
	ScheduledStartTime string         `json:"scheduledStartTime"`
	ScheduledEndTime   string         `json:"scheduledEndTime"`
	Timezone           string         `json:"timezone"`
	Address            ServiceAddress `json:"address"`
	Status             VisitStatus    `json:"status"`
}

// ClockEligibility is the visit provider's answer to canClockIn/canClockOut.
type ClockEligibility struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ClockEvent is the raw device-side clock-in/clock-out input before
// verification.
type ClockEvent struct {
	Latitude             float64            `json:"latitude"`
	Longitude            float64            `json:"longitude"`
	AccuracyM            float64            `json:"accuracyM"`
	CapturedAt           time.Time          `json:"capturedAt"`
	TimestampSource      TimestampSource    `json:"timestampSource"`
	Method               VerificationMethod `json:"method"`
	LocationSource       LocationSource     `json:"locationSource"`
	MockLocationDetected bool               `json:"mockLocationDetected"`
	Device               DeviceInfo         `json:"device"`
}
