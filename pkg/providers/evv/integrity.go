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

package evv

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
)

// Integrity digests make stored EVV records tamper-evident:
//
//   - IntegrityHash covers the core identifying and clock-in data captured
//     at record creation and never changes afterwards.
//   - IntegrityChecksum covers the full current record excluding the
//     checksum field itself and is recomputed on every write.
//
// Both hash a canonical serialization: keys sorted lexicographically,
// timestamps as ISO-8601 UTC, coordinates fixed to 6 decimals, booleans as
// true/false. Auditors can re-derive either digest from the stored row.

// ComputeIntegrityHash digests the immutable core of a record.
func ComputeIntegrityHash(record *v1.EVVRecord) string {
	core := map[string]string{
		"caregiverId":      record.CaregiverID.String(),
		"clientId":         record.ClientID.String(),
		"clockInAccuracy":  fmt.Sprintf("%.1f", record.ClockInVerification.AccuracyM),
		"clockInLatitude":  fmt.Sprintf("%.6f", record.ClockInVerification.Latitude),
		"clockInLongitude": fmt.Sprintf("%.6f", record.ClockInVerification.Longitude),
		"clockInMethod":    string(record.ClockInVerification.Method),
		"clockInTime":      record.ClockInTime.UTC().Format(time.RFC3339),
		"deviceId":         record.ClockInVerification.Device.DeviceID,
		"serviceTypeCode":  record.ServiceTypeCode,
		"visitId":          record.VisitID.String(),
	}
	return hashCanonical(core)
}

// ComputeIntegrityChecksum digests the full record minus the checksum
// field. Any other field change produces a different checksum.
func ComputeIntegrityChecksum(record *v1.EVVRecord) (string, error) {
	// Round-trip through generic JSON so the canonical form is independent
	// of struct field order; encoding/json emits map keys sorted.
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	var generic map[string]any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return "", err
	}
	delete(generic, "integrityChecksum")
	return hashCanonical(generic), nil
}

// VerifyChecksum recomputes the checksum and compares it to the stored
// value.
func VerifyChecksum(record *v1.EVVRecord) (bool, error) {
	computed, err := ComputeIntegrityChecksum(record)
	if err != nil {
		return false, err
	}
	return computed == record.IntegrityChecksum, nil
}

// HashSignatureBlob digests an attestation signature image so the record
// references the blob without embedding it.
func HashSignatureBlob(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

func hashCanonical(value any) string {
	// encoding/json sorts map keys lexicographically, which is exactly the
	// canonical ordering the audit contract requires.
	encoded, err := json.Marshal(value)
	if err != nil {
		// Only unmarshalable inputs can fail here, and every caller passes
		// JSON-derived maps.
		panic(err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
