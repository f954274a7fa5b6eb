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

package submission

import (
	"encoding/json"
	"time"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
)

// payloadFormat versions the vendor-neutral snapshot format. Adapters own
// any further translation to vendor wire formats.
const payloadFormat = "EVV-JSON-1.0"

type payloadLocation struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyM      float64 `json:"accuracyM"`
	WithinGeofence bool    `json:"withinGeofence"`
	Method         string  `json:"method"`
}

// recordPayload is the snapshot submitted to aggregators. It carries only
// what the vendors ingest, never internal review state.
type recordPayload struct {
	Format            string           `json:"format"`
	EVVRecordID       string           `json:"evvRecordId"`
	VisitID           string           `json:"visitId"`
	ClientID          string           `json:"clientId"`
	ClientMedicaidID  string           `json:"clientMedicaidId,omitempty"`
	CaregiverID       string           `json:"caregiverId"`
	ServiceTypeCode   string           `json:"serviceTypeCode"`
	StateCode         string           `json:"stateCode"`
	ClockInTime       string           `json:"clockInTime"`
	ClockOutTime      string           `json:"clockOutTime"`
	DurationMinutes   int              `json:"durationMinutes"`
	ClockInLocation   payloadLocation  `json:"clockInLocation"`
	ClockOutLocation  *payloadLocation `json:"clockOutLocation,omitempty"`
	VerificationLevel string           `json:"verificationLevel"`
	ComplianceFlags   []string         `json:"complianceFlags"`
	IntegrityHash     string           `json:"integrityHash"`
}

func buildPayload(record *v1.EVVRecord) ([]byte, error) {
	payload := recordPayload{
		Format:            payloadFormat,
		EVVRecordID:       record.ID.String(),
		VisitID:           record.VisitID.String(),
		ClientID:          record.ClientID.String(),
		ClientMedicaidID:  record.ClientMedicaidID,
		CaregiverID:       record.CaregiverID.String(),
		ServiceTypeCode:   record.ServiceTypeCode,
		StateCode:         record.ServiceAddress.State,
		ClockInTime:       record.ClockInTime.UTC().Format(time.RFC3339),
		ClockInLocation:   toPayloadLocation(record.ClockInVerification),
		VerificationLevel: string(record.VerificationLevel),
		IntegrityHash:     record.IntegrityHash,
	}
	if record.ClockOutTime != nil {
		payload.ClockOutTime = record.ClockOutTime.UTC().Format(time.RFC3339)
	}
	if record.TotalDuration != nil {
		payload.DurationMinutes = *record.TotalDuration
	}
	if record.ClockOutVerification != nil {
		loc := toPayloadLocation(*record.ClockOutVerification)
		payload.ClockOutLocation = &loc
	}
	for _, flag := range record.ComplianceFlags {
		payload.ComplianceFlags = append(payload.ComplianceFlags, string(flag))
	}
	return json.Marshal(payload)
}

func toPayloadLocation(v v1.LocationVerification) payloadLocation {
	return payloadLocation{
		Latitude:       v.Latitude,
		Longitude:      v.Longitude,
		AccuracyM:      v.AccuracyM,
		WithinGeofence: v.WithinGeofence,
		Method:         string(v.Method),
	}
}
