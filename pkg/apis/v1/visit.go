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

// VisitStatus is the visit lifecycle state. Transitions are guarded by the
// state machine in the visit provider; only the pairs it enumerates are
// legal.
type VisitStatus string

const (
	VisitStatusDraft           VisitStatus = "DRAFT"
	VisitStatusScheduled       VisitStatus = "SCHEDULED"
	VisitStatusUnassigned      VisitStatus = "UNASSIGNED"
	VisitStatusAssigned        VisitStatus = "ASSIGNED"
	VisitStatusConfirmed       VisitStatus = "CONFIRMED"
	VisitStatusEnRoute         VisitStatus = "EN_ROUTE"
	VisitStatusArrived         VisitStatus = "ARRIVED"
	VisitStatusInProgress      VisitStatus = "IN_PROGRESS"
	VisitStatusPaused          VisitStatus = "PAUSED"
	VisitStatusCompleted       VisitStatus = "COMPLETED"
	VisitStatusIncomplete      VisitStatus = "INCOMPLETE"
	VisitStatusCancelled       VisitStatus = "CANCELLED"
	VisitStatusNoShowCaregiver VisitStatus = "NO_SHOW_CAREGIVER"
	VisitStatusNoShowClient    VisitStatus = "NO_SHOW_CLIENT"
	VisitStatusRejected        VisitStatus = "REJECTED"
)

// IsTerminal reports whether no further transitions are possible.
func (s VisitStatus) IsTerminal() bool {
	switch s {
	case VisitStatusCompleted, VisitStatusIncomplete, VisitStatusCancelled, VisitStatusNoShowClient:
		return true
	}
	return false
}

// ConflictableVisitStatuses are the statuses considered when detecting
// scheduling overlap for a client on a given date.
var ConflictableVisitStatuses = []VisitStatus{
	VisitStatusScheduled,
	VisitStatusAssigned,
	VisitStatusConfirmed,
	VisitStatusInProgress,
}

// BusyVisitStatuses are the statuses that occupy a caregiver's calendar when
// computing availability.
var BusyVisitStatuses = []VisitStatus{
	VisitStatusAssigned,
	VisitStatusConfirmed,
	VisitStatusEnRoute,
	VisitStatusInProgress,
}

// VisitType categorizes the visit for billing and reporting.
type VisitType string

const (
	VisitTypeScheduled VisitType = "SCHEDULED"
	VisitTypeAdHoc     VisitType = "AD_HOC"
	VisitTypeRespite   VisitType = "RESPITE"
	VisitTypeAsNeeded  VisitType = "AS_NEEDED"
)

// AssignmentMethod records how a caregiver was attached to a visit.
type AssignmentMethod string

const (
	AssignmentMethodManual     AssignmentMethod = "MANUAL"
	AssignmentMethodAutoMatch  AssignmentMethod = "AUTO_MATCH"
	AssignmentMethodSelfAssign AssignmentMethod = "SELF_ASSIGN"
	AssignmentMethodPreferred  AssignmentMethod = "PREFERRED"
	AssignmentMethodOverflow   AssignmentMethod = "OVERFLOW"
)

// BillingStatus tracks the downstream billing state of a completed visit.
type BillingStatus string

const (
	BillingStatusUnbilled BillingStatus = "UNBILLED"
	BillingStatusReady    BillingStatus = "READY"
	BillingStatusHeld     BillingStatus = "HELD"
)

// StatusChange is one append-only entry in a visit's status history.
// Automatic is true when the transition was system-triggered by an EVV event
// or the submission engine rather than a user action.
type StatusChange struct {
	From      VisitStatus `json:"from"`
	To        VisitStatus `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
	ActorID   uuid.UUID   `json:"actorId"`
	Reason    string      `json:"reason,omitempty"`
	Notes     string      `json:"notes,omitempty"`
	Automatic bool        `json:"automatic"`
}

// Assignment captures who was assigned, how, by whom, and when.
type Assignment struct {
	CaregiverID uuid.UUID        `json:"caregiverId"`
	Method      AssignmentMethod `json:"method"`
	AssignedBy  uuid.UUID        `json:"assignedBy"`
	AssignedAt  time.Time        `json:"assignedAt"`
}

// VisitFlags are operational markers on a visit.
type VisitFlags struct {
	Urgent              bool `json:"urgent,omitempty"`
	Priority            bool `json:"priority,omitempty"`
	RequiresSupervision bool `json:"requiresSupervision,omitempty"`
}

// Visit is a concrete care-visit instance, usually spawned from a service
// pattern. Scheduled times are same-day "HH:MM" wall-clock strings in the
// visit's timezone; actual times are instants populated by EVV events.
type Visit struct {
	ObjectMeta

	PatternID   *uuid.UUID `json:"patternId,omitempty"`
	ClientID    uuid.UUID  `json:"clientId"`
	VisitNumber string     `json:"visitNumber"`
	Type        VisitType  `json:"type"`

	ServiceDate        timeutil.Date `json:"serviceDate"`
	ScheduledStartTime string        `json:"scheduledStartTime"`
	ScheduledEndTime   string        `json:"scheduledEndTime"`
	ScheduledDuration  int           `json:"scheduledDuration"`
	Timezone           string        `json:"timezone"`

	ActualStartTime *time.Time `json:"actualStartTime,omitempty"`
	ActualEndTime   *time.Time `json:"actualEndTime,omitempty"`

	Assignment *Assignment `json:"assignment,omitempty"`

	ServiceTypeCode        string         `json:"serviceTypeCode"`
	Address                ServiceAddress `json:"address"`
	RequiredSkills         []string       `json:"requiredSkills,omitempty"`
	RequiredCertifications []string       `json:"requiredCertifications,omitempty"`

	Status        VisitStatus    `json:"status"`
	StatusHistory []StatusChange `json:"statusHistory"`
	Flags         VisitFlags     `json:"flags"`

	EVVRecordID   *uuid.UUID    `json:"evvRecordId,omitempty"`
	BillingStatus BillingStatus `json:"billingStatus"`
}

// CaregiverID returns the assigned caregiver, or uuid.Nil when unassigned.
func (v *Visit) CaregiverID() uuid.UUID {
	if v.Assignment == nil {
		return uuid.Nil
	}
	return v.Assignment.CaregiverID
}

// ScheduledInterval converts the scheduled times to a half-open
// minutes-since-midnight interval.
func (v *Visit) ScheduledInterval() (timeutil.Interval, error) {
	return timeutil.NewInterval(v.ScheduledStartTime, v.ScheduledEndTime)
}
