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
	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
)

// legalTransitions is the closed visit state machine. Terminal states
// (COMPLETED, INCOMPLETE, CANCELLED, NO_SHOW_CLIENT) have no outgoing edges;
// NO_SHOW_CAREGIVER and REJECTED allow re-assignment.
var legalTransitions = map[v1.VisitStatus][]v1.VisitStatus{
	v1.VisitStatusDraft:      {v1.VisitStatusScheduled, v1.VisitStatusCancelled},
	v1.VisitStatusScheduled:  {v1.VisitStatusUnassigned, v1.VisitStatusAssigned, v1.VisitStatusCancelled},
	v1.VisitStatusUnassigned: {v1.VisitStatusAssigned, v1.VisitStatusCancelled},
	v1.VisitStatusAssigned:   {v1.VisitStatusConfirmed, v1.VisitStatusEnRoute, v1.VisitStatusCancelled, v1.VisitStatusRejected},
	v1.VisitStatusConfirmed:  {v1.VisitStatusEnRoute, v1.VisitStatusCancelled, v1.VisitStatusNoShowCaregiver},
	v1.VisitStatusEnRoute:    {v1.VisitStatusArrived, v1.VisitStatusCancelled, v1.VisitStatusNoShowCaregiver},
	v1.VisitStatusArrived:    {v1.VisitStatusInProgress, v1.VisitStatusNoShowClient},
	v1.VisitStatusInProgress: {v1.VisitStatusPaused, v1.VisitStatusCompleted, v1.VisitStatusIncomplete},
	v1.VisitStatusPaused:     {v1.VisitStatusInProgress, v1.VisitStatusCompleted, v1.VisitStatusIncomplete},

	v1.VisitStatusNoShowCaregiver: {v1.VisitStatusAssigned},
	v1.VisitStatusRejected:        {v1.VisitStatusAssigned},

	v1.VisitStatusCompleted:    {},
	v1.VisitStatusIncomplete:   {},
	v1.VisitStatusCancelled:    {},
	v1.VisitStatusNoShowClient: {},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to v1.VisitStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a validation error for any pair outside the
// state machine.
func ValidateTransition(from, to v1.VisitStatus) error {
	if _, known := legalTransitions[from]; !known {
		return errors.Validation("UNKNOWN_STATUS", "unknown visit status %q", from)
	}
	if _, known := legalTransitions[to]; !known {
		return errors.Validation("UNKNOWN_STATUS", "unknown visit status %q", to)
	}
	if !CanTransition(from, to) {
		return errors.Validation("INVALID_TRANSITION", "visit status may not change from %s to %s", from, to).
			WithDetail("from", string(from)).
			WithDetail("to", string(to))
	}
	return nil
}
