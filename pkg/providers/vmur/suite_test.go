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

package vmur_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	clocktesting "k8s.io/utils/clock/testing"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/fake"
	"github.com/neighborhood-lab/care-commons/pkg/providers/evv"
	"github.com/neighborhood-lab/care-commons/pkg/providers/submission"
	"github.com/neighborhood-lab/care-commons/pkg/providers/vmur"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// recordingResubmitter counts resubmission calls.
type recordingResubmitter struct {
	mu      sync.Mutex
	records []uuid.UUID
	err     error
}

func (r *recordingResubmitter) SubmitRecord(_ context.Context, evvRecordID uuid.UUID) ([]*v1.AggregatorSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, evvRecordID)
	return nil, r.err
}

var (
	ctx         context.Context
	store       *fake.Store
	resubmitter *recordingResubmitter
	fakeClock   *clocktesting.FakeClock
	provider    *vmur.Provider

	record     *v1.EVVRecord
	requester  v1.Principal
	supervisor v1.Principal
)

func TestVMUR(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "VMUR")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	store = fake.NewStore()
	resubmitter = &recordingResubmitter{}
	fakeClock = clocktesting.NewFakeClock(time.Date(2025, 7, 25, 12, 0, 0, 0, time.UTC))
	provider = vmur.NewProvider(store, evv.DefaultRulesConfig(), resubmitter, fakeClock)

	// A Texas record 45 days past clock-in, well beyond the 30-day lock.
	record = lockedRecord("TX", fakeClock.Now().AddDate(0, 0, -45))
	requester = v1.Principal{UserID: uuid.New(), Name: "Maria Alvarez", Roles: []v1.Role{v1.RoleCaregiver}}
	supervisor = v1.Principal{UserID: uuid.New(), Name: "Dana Brooks", Roles: []v1.Role{v1.RoleCoordinator}}
})

func lockedRecord(state string, clockIn time.Time) *v1.EVVRecord {
	lat, lon := 30.2672, -97.7431
	clockOut := clockIn.Add(2 * time.Hour)
	duration := 120
	r := &v1.EVVRecord{
		ObjectMeta: v1.ObjectMeta{
			ID:             uuid.New(),
			OrganizationID: uuid.New(),
			Version:        1,
			CreatedAt:      clockIn,
			UpdatedAt:      clockOut,
		},
		VisitID:         uuid.New(),
		ClientID:        uuid.New(),
		CaregiverID:     uuid.New(),
		ServiceTypeCode: "T1019",
		ServiceAddress: v1.ServiceAddress{
			AddressID:  uuid.New(),
			Line1:      "500 Congress Ave",
			City:       "Austin",
			State:      state,
			PostalCode: "78701",
			Latitude:   &lat,
			Longitude:  &lon,
		},
		ClockInTime: clockIn.UTC(),
		ClockInVerification: v1.LocationVerification{
			Latitude:           lat,
			Longitude:          lon,
			CapturedAt:         clockIn.UTC(),
			Method:             v1.MethodGPS,
			WithinGeofence:     true,
			VerificationPassed: true,
		},
		ClockOutTime: &clockOut,
		ClockOutVerification: &v1.LocationVerification{
			Latitude:           lat,
			Longitude:          lon,
			CapturedAt:         clockOut.UTC(),
			Method:             v1.MethodGPS,
			WithinGeofence:     true,
			VerificationPassed: true,
		},
		TotalDuration:     &duration,
		Status:            v1.EVVRecordStatusComplete,
		VerificationLevel: v1.VerificationLevelFull,
		ComplianceFlags:   []v1.ComplianceFlag{v1.FlagCompliant},
		IntegrityHash:     "d41c0ffee1234567890abcdef1234567890abcdef1234567890abcdef123456",
	}
	Expect(store.CreateEVVRecord(ctx, r)).To(Succeed())
	return r
}

// shiftClockIn is a correction moving the clock-in 30 minutes later.
func shiftClockIn() v1.VMURCorrection {
	corrected := record.ClockInTime.Add(30 * time.Minute)
	return v1.VMURCorrection{ClockInTime: &corrected}
}

func createRequest() *v1.VMUR {
	request, err := provider.Create(ctx, vmur.CreateInput{
		EVVRecordID:   record.ID,
		ReasonCode:    v1.VMURReasonIncorrectClockTime,
		ReasonDetails: "caregiver clocked in from the parking lot",
		Correction:    shiftClockIn(),
	}, requester)
	Expect(err).ToNot(HaveOccurred())
	return request
}

var _ = Describe("Create", func() {
	It("should open a PENDING request with described changes", func() {
		request := createRequest()
		Expect(request.Status).To(Equal(v1.VMURStatusPending))
		Expect(request.EVVRecordID).To(Equal(record.ID))
		Expect(request.RequestedBy).To(Equal(requester.UserID))
		Expect(request.Changes).To(HaveLen(1))
		Expect(request.Changes[0]).To(HavePrefix("clockInTime:"))
		Expect(request.ExpiresAt).To(Equal(fakeClock.Now().UTC().AddDate(0, 0, vmur.ExpiryDays)))
	})
	It("should reject reason codes outside the approved set", func() {
		_, err := provider.Create(ctx, vmur.CreateInput{
			EVVRecordID: record.ID,
			ReasonCode:  "DOG_ATE_PHONE",
			Correction:  shiftClockIn(),
		}, requester)
		Expect(errors.CodeOf(err)).To(Equal("INVALID_REASON_CODE"))
	})
	It("should refuse states that amend records directly", func() {
		record = lockedRecord("FL", fakeClock.Now().AddDate(0, 0, -45))
		_, err := provider.Create(ctx, vmur.CreateInput{
			EVVRecordID: record.ID,
			ReasonCode:  v1.VMURReasonIncorrectClockTime,
			Correction:  shiftClockIn(),
		}, requester)
		Expect(errors.CodeOf(err)).To(Equal("VMUR_NOT_APPLICABLE"))
	})
	It("should refuse records still inside the amendment window", func() {
		record = lockedRecord("TX", fakeClock.Now().AddDate(0, 0, -10))
		_, err := provider.Create(ctx, vmur.CreateInput{
			EVVRecordID: record.ID,
			ReasonCode:  v1.VMURReasonIncorrectClockTime,
			Correction:  shiftClockIn(),
		}, requester)
		Expect(errors.CodeOf(err)).To(Equal("RECORD_NOT_LOCKED"))
	})
	It("should refuse corrections that change nothing", func() {
		same := record.ClockInTime
		_, err := provider.Create(ctx, vmur.CreateInput{
			EVVRecordID: record.ID,
			ReasonCode:  v1.VMURReasonIncorrectClockTime,
			Correction:  v1.VMURCorrection{ClockInTime: &same},
		}, requester)
		Expect(errors.CodeOf(err)).To(Equal("NO_CHANGES"))
	})
})

var _ = Describe("Approve", func() {
	It("should require a supervisor", func() {
		request := createRequest()
		_, err := provider.Approve(ctx, request.ID, requester)
		Expect(errors.IsPermission(err)).To(BeTrue())
		Expect(errors.CodeOf(err)).To(Equal("SUPERVISOR_REQUIRED"))
	})
	It("should apply the correction and queue resubmission", func() {
		request := createRequest()
		decided, err := provider.Approve(ctx, request.ID, supervisor)
		Expect(err).ToNot(HaveOccurred())
		Expect(decided.Status).To(Equal(v1.VMURStatusApproved))
		Expect(*decided.ApprovedBy).To(Equal(supervisor.UserID))
		Expect(decided.DecidedAt).ToNot(BeNil())

		amended, err := store.GetEVVRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(amended.Status).To(Equal(v1.EVVRecordStatusAmended))
		Expect(amended.HasFlag(v1.FlagAmended)).To(BeTrue())
		Expect(amended.ClockInTime).To(Equal(record.ClockInTime.Add(30 * time.Minute)))
		// Duration shrinks because the clock-out stayed put.
		Expect(*amended.TotalDuration).To(Equal(90))
		Expect(amended.PayorSubmission.SubmittedToAggregator).To(BeFalse())

		valid, err := evv.VerifyChecksum(amended)
		Expect(err).ToNot(HaveOccurred())
		Expect(valid).To(BeTrue())

		Expect(resubmitter.records).To(Equal([]uuid.UUID{record.ID}))
	})
	It("should mark the payor status again once resubmission is accepted", func() {
		aggregator := fake.NewAggregator("hhaexchange-tx", v1.AggregatorHHAeXchange)
		engine := submission.NewEngine(store, submission.NewRouter().Register("TX", aggregator), fakeClock)
		provider = vmur.NewProvider(store, evv.DefaultRulesConfig(), engine, fakeClock)

		request := createRequest()
		_, err := provider.Approve(ctx, request.ID, supervisor)
		Expect(err).ToNot(HaveOccurred())

		amended, err := store.GetEVVRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(amended.PayorSubmission.SubmittedToAggregator).To(BeTrue())
		Expect(amended.PayorSubmission.SubmittedAt).ToNot(BeNil())
		Expect(aggregator.SubmitCalls()).To(Equal(int64(1)))
	})
	It("should approve even when resubmission fails", func() {
		resubmitter.err = errors.Transport("NETWORK_ERROR", "aggregator unreachable")
		request := createRequest()
		decided, err := provider.Approve(ctx, request.ID, supervisor)
		Expect(err).ToNot(HaveOccurred())
		Expect(decided.Status).To(Equal(v1.VMURStatusApproved))
	})
	It("should refuse requests already decided", func() {
		request := createRequest()
		_, err := provider.Approve(ctx, request.ID, supervisor)
		Expect(err).ToNot(HaveOccurred())
		_, err = provider.Approve(ctx, request.ID, supervisor)
		Expect(errors.IsConflict(err)).To(BeTrue())
		Expect(errors.CodeOf(err)).To(Equal("ALREADY_DECIDED"))
	})
	It("should refuse expired requests", func() {
		request := createRequest()
		fakeClock.Step((vmur.ExpiryDays + 1) * 24 * time.Hour)
		_, err := provider.Approve(ctx, request.ID, supervisor)
		Expect(errors.IsConflict(err)).To(BeTrue())
		Expect(errors.CodeOf(err)).To(Equal("REQUEST_EXPIRED"))
	})
})

var _ = Describe("Deny", func() {
	It("should require a denial reason", func() {
		request := createRequest()
		_, err := provider.Deny(ctx, request.ID, "", supervisor)
		Expect(errors.CodeOf(err)).To(Equal("MISSING_DENIAL_REASON"))
	})
	It("should close the request without touching the record", func() {
		request := createRequest()
		decided, err := provider.Deny(ctx, request.ID, "correction not supported by documentation", supervisor)
		Expect(err).ToNot(HaveOccurred())
		Expect(decided.Status).To(Equal(v1.VMURStatusDenied))
		Expect(decided.DenialReason).To(ContainSubstring("documentation"))

		untouched, err := store.GetEVVRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(untouched.Status).To(Equal(v1.EVVRecordStatusComplete))
		Expect(untouched.ClockInTime).To(Equal(record.ClockInTime))
		Expect(resubmitter.records).To(BeEmpty())
	})
})

var _ = Describe("Pending and ExpireOld", func() {
	It("should list only the organization's open requests", func() {
		request := createRequest()
		pending, err := provider.Pending(ctx, record.OrganizationID)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].ID).To(Equal(request.ID))

		pending, err = provider.Pending(ctx, uuid.New())
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
	It("should expire stale pending requests", func() {
		request := createRequest()
		fakeClock.Step((vmur.ExpiryDays + 1) * 24 * time.Hour)

		expired, err := provider.ExpireOld(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(expired).To(Equal(1))

		reloaded, err := provider.Get(ctx, request.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(reloaded.Status).To(Equal(v1.VMURStatusExpired))
	})
	It("should leave fresh pending requests alone", func() {
		createRequest()
		expired, err := provider.ExpireOld(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(expired).To(BeZero())
	})
})
