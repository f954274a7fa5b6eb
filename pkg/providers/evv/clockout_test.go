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

package evv_test

import (
	"time"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/providers/evv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ClockOut", func() {
	var record *v1.EVVRecord

	BeforeEach(func() {
		var err error
		record, err = clockIn(gpsEvent())
		Expect(err).ToNot(HaveOccurred())
		visits.StatusUpdates = nil
	})

	clockOut := func(event v1.ClockEvent, attestation *evv.AttestationInput) (*v1.EVVRecord, error) {
		return provider.ClockOut(ctx, evv.ClockOutInput{
			EVVRecordID:       record.ID,
			CaregiverID:       caregiver,
			Event:             event,
			ClientAttestation: attestation,
		}, actor)
	}

	outEvent := func(after time.Duration) v1.ClockEvent {
		event := gpsEvent()
		event.CapturedAt = record.ClockInTime.Add(after)
		return event
	}

	It("should complete the record and the visit", func() {
		completed, err := clockOut(outEvent(2*time.Hour), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(completed.Status).To(Equal(v1.EVVRecordStatusComplete))
		Expect(completed.ClockOutTime).ToNot(BeNil())
		Expect(*completed.TotalDuration).To(Equal(120))
		Expect(completed.ClockOutVerification).ToNot(BeNil())
		Expect(completed.ClockOutVerification.VerificationPassed).To(BeTrue())

		Expect(visits.StatusUpdates).To(HaveLen(1))
		Expect(visits.StatusUpdates[0].Status).To(Equal(v1.VisitStatusCompleted))
	})
	It("should round the duration to whole minutes", func() {
		completed, err := clockOut(outEvent(2*time.Hour+45*time.Second), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(*completed.TotalDuration).To(Equal(121))
	})
	It("should recompute the checksum but never the integrity hash", func() {
		originalHash := record.IntegrityHash
		originalChecksum := record.IntegrityChecksum

		completed, err := clockOut(outEvent(2*time.Hour), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(completed.IntegrityHash).To(Equal(originalHash))
		Expect(completed.IntegrityChecksum).ToNot(Equal(originalChecksum))

		valid, err := evv.VerifyChecksum(completed)
		Expect(err).ToNot(HaveOccurred())
		Expect(valid).To(BeTrue())
	})
	It("should refuse a second clock-out", func() {
		_, err := clockOut(outEvent(2*time.Hour), nil)
		Expect(err).ToNot(HaveOccurred())
		_, err = clockOut(outEvent(3*time.Hour), nil)
		Expect(errors.IsConflict(err)).To(BeTrue())
		Expect(errors.CodeOf(err)).To(Equal("ALREADY_COMPLETED"))
	})
	It("should refuse a caregiver who does not own the record", func() {
		actor.UserID = uuid.New()
		actor.Roles = []v1.Role{v1.RoleCoordinator}
		_, err := provider.ClockOut(ctx, evv.ClockOutInput{
			EVVRecordID: record.ID,
			CaregiverID: actor.UserID,
			Event:       outEvent(2 * time.Hour),
		}, actor)
		Expect(errors.CodeOf(err)).To(Equal("CAREGIVER_MISMATCH"))
	})
	It("should surface the visit's eligibility refusal", func() {
		visits.ClockOutEligibility = v1.ClockEligibility{Allowed: false, Reason: "visit not in progress"}
		_, err := clockOut(outEvent(2*time.Hour), nil)
		Expect(errors.CodeOf(err)).To(Equal("CLOCK_OUT_NOT_ALLOWED"))
	})
	It("should reject clock-outs before the clock-in", func() {
		_, err := clockOut(outEvent(-time.Minute), nil)
		Expect(errors.CodeOf(err)).To(Equal("CLOCK_OUT_BEFORE_IN"))
	})
	It("should keep the worse verification level across both events", func() {
		event := outEvent(2 * time.Hour)
		event.Latitude += 0.005
		completed, err := clockOut(event, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(completed.VerificationLevel).To(Equal(v1.VerificationLevelPartial))
		Expect(completed.HasFlag(v1.FlagGeofenceViolation)).To(BeTrue())
	})
	It("should attach the client attestation with a signature digest", func() {
		blob := []byte("signature-strokes")
		completed, err := clockOut(outEvent(2*time.Hour), &evv.AttestationInput{
			SignerID:      clientID,
			SignerName:    "Eleanor Whitfield",
			Type:          v1.AttestationTypeSignature,
			SignatureBlob: blob,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(completed.ClientAttestation).ToNot(BeNil())
		Expect(completed.ClientAttestation.SignatureHash).To(Equal(evv.HashSignatureBlob(blob)))
		Expect(completed.ClientAttestation.SignedAt).To(Equal(fakeClock.Now().UTC()))
		Expect(completed.HasFlag(v1.FlagMissingSignature)).To(BeFalse())
	})
})

var _ = Describe("ClockOut in Florida", func() {
	var record *v1.EVVRecord

	BeforeEach(func() {
		visits.Visits[visitID].Address.State = "FL"
		var err error
		record, err = clockIn(gpsEvent())
		Expect(err).ToNot(HaveOccurred())
	})

	It("should flag a missing client signature", func() {
		event := gpsEvent()
		event.CapturedAt = record.ClockInTime.Add(2 * time.Hour)
		completed, err := provider.ClockOut(ctx, evv.ClockOutInput{
			EVVRecordID: record.ID,
			CaregiverID: caregiver,
			Event:       event,
		}, actor)
		Expect(err).ToNot(HaveOccurred())
		Expect(completed.HasFlag(v1.FlagMissingSignature)).To(BeTrue())
		Expect(completed.HasFlag(v1.FlagCompliant)).To(BeFalse())
	})
})

var _ = Describe("ApplyManualOverride", func() {
	var (
		record     *v1.EVVRecord
		supervisor v1.Principal
	)

	BeforeEach(func() {
		event := gpsEvent()
		event.MockLocationDetected = true
		var err error
		record, err = clockIn(event)
		Expect(err).ToNot(HaveOccurred())
		supervisor = v1.Principal{
			UserID: uuid.New(),
			Name:   "Dana Brooks",
			Roles:  []v1.Role{v1.RoleCoordinator},
		}
	})

	override := func(input evv.OverrideInput, by v1.Principal) (*v1.EVVRecord, error) {
		input.EVVRecordID = record.ID
		return provider.ApplyManualOverride(ctx, input, by)
	}

	It("should require a supervisor", func() {
		_, err := override(evv.OverrideInput{Entry: evv.OverrideClockIn, Reason: "GPS outage", ReasonCode: "GPS_FAILURE"}, actor)
		Expect(errors.IsPermission(err)).To(BeTrue())
		Expect(errors.CodeOf(err)).To(Equal("SUPERVISOR_REQUIRED"))
	})
	It("should require a reason and reason code", func() {
		_, err := override(evv.OverrideInput{Entry: evv.OverrideClockIn, Reason: "GPS outage"}, supervisor)
		Expect(errors.CodeOf(err)).To(Equal("MISSING_REASON"))
	})
	It("should reject unknown entries", func() {
		_, err := override(evv.OverrideInput{Entry: "LUNCH", Reason: "GPS outage", ReasonCode: "GPS_FAILURE"}, supervisor)
		Expect(errors.CodeOf(err)).To(Equal("INVALID_ENTRY"))
	})
	It("should refuse to override a clock-out that never happened", func() {
		_, err := override(evv.OverrideInput{Entry: evv.OverrideClockOut, Reason: "GPS outage", ReasonCode: "GPS_FAILURE"}, supervisor)
		Expect(errors.CodeOf(err)).To(Equal("NO_CLOCK_OUT"))
	})
	It("should force the verification to pass and keep the original flags", func() {
		amended, err := override(evv.OverrideInput{
			Entry:           evv.OverrideClockIn,
			Reason:          "client confirmed caregiver was present",
			ReasonCode:      "CLIENT_CONFIRMED",
			SupervisorTitle: "Care Coordinator",
		}, supervisor)
		Expect(err).ToNot(HaveOccurred())
		Expect(amended.ClockInVerification.VerificationPassed).To(BeTrue())
		Expect(amended.ClockInVerification.Status).To(Equal("OVERRIDDEN"))
		Expect(amended.ClockInVerification.Override).ToNot(BeNil())
		Expect(amended.ClockInVerification.Override.OverrideBy).To(Equal(supervisor.UserID))
		Expect(amended.ClockInVerification.Override.SupervisorName).To(Equal("Dana Brooks"))

		Expect(amended.HasFlag(v1.FlagLocationSuspicious)).To(BeTrue())
		Expect(amended.HasFlag(v1.FlagManualOverride)).To(BeTrue())
		Expect(amended.HasFlag(v1.FlagAmended)).To(BeTrue())

		valid, err := evv.VerifyChecksum(amended)
		Expect(err).ToNot(HaveOccurred())
		Expect(valid).To(BeTrue())
	})
})
