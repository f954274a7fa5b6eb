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

package submission_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/neighborhood-lab/care-commons/pkg/aggregators"
	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/fake"
	"github.com/neighborhood-lab/care-commons/pkg/providers/submission"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	ctx       context.Context
	store     *fake.Store
	router    *submission.Router
	texas     *fake.Aggregator
	fakeClock *clocktesting.FakeClock
	engine    *submission.Engine
)

func TestSubmission(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Submission")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	store = fake.NewStore()
	texas = fake.NewAggregator("hhaexchange-tx", v1.AggregatorHHAeXchange)
	router = submission.NewRouter().Register("TX", texas)
	fakeClock = clocktesting.NewFakeClock(time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC))
	engine = submission.NewEngine(store, router, fakeClock)
})

// completeRecord stores a submittable COMPLETE record for the given state.
func completeRecord(state string) *v1.EVVRecord {
	lat, lon := 30.2672, -97.7431
	clockIn := time.Date(2025, 6, 10, 14, 5, 0, 0, time.UTC)
	clockOut := clockIn.Add(2 * time.Hour)
	duration := 120
	record := &v1.EVVRecord{
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
		ClockInTime:   clockIn,
		ClockOutTime:  &clockOut,
		TotalDuration: &duration,
		ClockInVerification: v1.LocationVerification{
			Latitude: lat, Longitude: lon, AccuracyM: 10,
			CapturedAt: clockIn, Method: v1.MethodGPS, WithinGeofence: true, VerificationPassed: true,
		},
		ClockOutVerification: &v1.LocationVerification{
			Latitude: lat, Longitude: lon, AccuracyM: 10,
			CapturedAt: clockOut, Method: v1.MethodGPS, WithinGeofence: true, VerificationPassed: true,
		},
		Status:            v1.EVVRecordStatusComplete,
		VerificationLevel: v1.VerificationLevelFull,
		ComplianceFlags:   []v1.ComplianceFlag{v1.FlagCompliant},
		IntegrityHash:     "0b7e4a9d9f6f3c0d1e2a4b6c8d0e2f4a6b8c0d2e4f6a8b0c2d4e6f8a0b2c4d6e",
	}
	Expect(store.CreateEVVRecord(ctx, record)).To(Succeed())
	return record
}

var _ = DescribeTable("BackoffFor",
	func(retryCount int, expected time.Duration) {
		Expect(submission.BackoffFor(retryCount)).To(Equal(expected))
	},
	Entry("clamps below one", 0, 60*time.Second),
	Entry("first retry", 1, 60*time.Second),
	Entry("second retry", 2, 300*time.Second),
	Entry("third retry", 3, 1800*time.Second),
	Entry("clamps past the schedule", 9, 1800*time.Second),
)

var _ = Describe("Router", func() {
	It("should fail for states with no registered aggregator", func() {
		_, err := router.Route("WY")
		Expect(errors.IsValidation(err)).To(BeTrue())
		Expect(errors.CodeOf(err)).To(Equal("NO_AGGREGATOR_ROUTE"))
	})
	It("should list configured states sorted", func() {
		router.Register("GA", fake.NewAggregator("tellus-ga", v1.AggregatorTellus))
		router.Register("AZ", fake.NewAggregator("sandata-az", v1.AggregatorSandata))
		Expect(router.States()).To(Equal([]string{"AZ", "GA", "TX"}))
	})
})

var _ = Describe("SubmitRecord", func() {
	It("should accept a clean record and mark the payor status", func() {
		record := completeRecord("TX")
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(v1.SubmissionStatusAccepted))
		Expect(results[0].AggregatorConfirmationID).To(Equal("FAKE-CONF"))
		Expect(results[0].AggregatorID).To(Equal("hhaexchange-tx"))
		Expect(results[0].SubmissionFormat).To(Equal("EVV-JSON-1.0"))
		Expect(results[0].Payload).ToNot(BeEmpty())

		stored, err := store.GetEVVRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.PayorSubmission.SubmittedToAggregator).To(BeTrue())
		Expect(stored.PayorSubmission.SubmittedAt).ToNot(BeNil())
	})
	It("should reject records that are not complete", func() {
		record := completeRecord("TX")
		record.Status = v1.EVVRecordStatusPending
		Expect(store.UpdateEVVRecord(ctx, record)).To(Succeed())
		_, err := engine.SubmitRecord(ctx, record.ID)
		Expect(errors.CodeOf(err)).To(Equal("RECORD_NOT_COMPLETE"))
	})
	It("should name every missing field at once", func() {
		record := completeRecord("TX")
		record.ClockOutTime = nil
		record.TotalDuration = nil
		record.IntegrityHash = ""
		Expect(store.UpdateEVVRecord(ctx, record)).To(Succeed())
		_, err := engine.SubmitRecord(ctx, record.ID)
		Expect(errors.CodeOf(err)).To(Equal("RECORD_INCOMPLETE"))
		Expect(err.Error()).To(ContainSubstring("clockOutTime"))
		Expect(err.Error()).To(ContainSubstring("totalDurationMinutes"))
		Expect(err.Error()).To(ContainSubstring("integrityHash"))
	})
	It("should require a client identity and the clock-out verification", func() {
		record := completeRecord("TX")
		record.ClientID = uuid.Nil
		record.ClientMedicaidID = ""
		record.ClockOutVerification = nil
		Expect(store.UpdateEVVRecord(ctx, record)).To(Succeed())
		_, err := engine.SubmitRecord(ctx, record.ID)
		Expect(errors.CodeOf(err)).To(Equal("RECORD_INCOMPLETE"))
		Expect(err.Error()).To(ContainSubstring("clientId"))
		Expect(err.Error()).To(ContainSubstring("clockOutVerification"))
	})
	It("should accept a Medicaid id in place of the client id", func() {
		record := completeRecord("TX")
		record.ClientID = uuid.Nil
		record.ClientMedicaidID = "529771234"
		Expect(store.UpdateEVVRecord(ctx, record)).To(Succeed())
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(v1.SubmissionStatusAccepted))
	})
	It("should hold back exception-level records without an override", func() {
		record := completeRecord("TX")
		record.VerificationLevel = v1.VerificationLevelException
		Expect(store.UpdateEVVRecord(ctx, record)).To(Succeed())
		_, err := engine.SubmitRecord(ctx, record.ID)
		Expect(errors.CodeOf(err)).To(Equal("VERIFICATION_EXCEPTION"))
	})
	It("should submit exception-level records once overridden", func() {
		record := completeRecord("TX")
		record.VerificationLevel = v1.VerificationLevelException
		record.ClockInVerification.Override = &v1.ManualOverride{OverrideBy: uuid.New(), Reason: "confirmed"}
		Expect(store.UpdateEVVRecord(ctx, record)).To(Succeed())
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(v1.SubmissionStatusAccepted))
	})
	It("should record a permanent vendor rejection", func() {
		texas.Enqueue(aggregators.Result{ErrorCode: "INVALID_MEDICAID_ID", ErrorMessage: "member not found"})
		record := completeRecord("TX")
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(v1.SubmissionStatusRejected))
		Expect(results[0].ErrorCode).To(Equal("INVALID_MEDICAID_ID"))
		Expect(results[0].NextRetryAt).To(BeNil())
	})
	It("should schedule a retry when the vendor asks for one", func() {
		texas.Enqueue(aggregators.Result{RequiresRetry: true, ErrorCode: "THROTTLED"})
		record := completeRecord("TX")
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(results[0].Status).To(Equal(v1.SubmissionStatusRetry))
		Expect(results[0].RetryCount).To(Equal(1))
		Expect(*results[0].NextRetryAt).To(Equal(fakeClock.Now().UTC().Add(60 * time.Second)))
	})
	It("should prefer the vendor's retry-after over the schedule", func() {
		texas.Enqueue(aggregators.Result{RequiresRetry: true, ErrorCode: "THROTTLED", RetryAfterSeconds: 600})
		record := completeRecord("TX")
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(*results[0].NextRetryAt).To(Equal(fakeClock.Now().UTC().Add(600 * time.Second)))
	})
	It("should capture a transport failure on the row instead of returning it", func() {
		texas.SubmitError = errors.Transport("NETWORK_ERROR", "connection reset")
		record := completeRecord("TX")
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(v1.SubmissionStatusRetry))
		Expect(results[0].ErrorCode).To(Equal("NETWORK_ERROR"))
		Expect(results[0].ErrorMessage).To(ContainSubstring("connection reset"))

		rows, err := engine.SubmissionsByRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].Status).To(Equal(v1.SubmissionStatusRetry))
	})
	It("should return a prior non-rejected submission instead of resubmitting", func() {
		record := completeRecord("TX")
		first, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		second, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(second[0].ID).To(Equal(first[0].ID))
		Expect(texas.SubmitCalls()).To(Equal(int64(1)))
	})
	It("should open a fresh submission after a rejection", func() {
		texas.Enqueue(aggregators.Result{ErrorCode: "INVALID_MEDICAID_ID"})
		record := completeRecord("TX")
		first, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(first[0].Status).To(Equal(v1.SubmissionStatusRejected))

		second, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(second[0].ID).ToNot(Equal(first[0].ID))
		Expect(second[0].Status).To(Equal(v1.SubmissionStatusAccepted))
	})
})

var _ = Describe("SubmitRecord in Florida", func() {
	var sunshine, humana *fake.Aggregator

	BeforeEach(func() {
		sunshine = fake.NewAggregator("hhaexchange-fl-sunshine", v1.AggregatorHHAeXchange)
		humana = fake.NewAggregator("hhaexchange-fl-humana", v1.AggregatorHHAeXchange)
		router.Register("FL", sunshine).Register("FL", humana)
	})

	It("should fan out to every configured MCO", func() {
		record := completeRecord("FL")
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(sunshine.SubmitCalls()).To(Equal(int64(1)))
		Expect(humana.SubmitCalls()).To(Equal(int64(1)))
	})
	It("should let one MCO fail without blocking the other", func() {
		sunshine.SubmitError = errors.Transport("NETWORK_ERROR", "gateway timeout")
		record := completeRecord("FL")
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(HaveLen(2))

		byAggregator := map[string]v1.SubmissionStatus{}
		for _, result := range results {
			byAggregator[result.AggregatorID] = result.Status
		}
		Expect(byAggregator).To(HaveKeyWithValue("hhaexchange-fl-sunshine", v1.SubmissionStatusRetry))
		Expect(byAggregator).To(HaveKeyWithValue("hhaexchange-fl-humana", v1.SubmissionStatusAccepted))

		rows, err := engine.SubmissionsByRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows).To(HaveLen(2))
	})
})

var _ = Describe("RetrySubmission", func() {
	It("should refuse to retry an accepted submission", func() {
		record := completeRecord("TX")
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		_, err = engine.RetrySubmission(ctx, results[0].ID)
		Expect(errors.IsConflict(err)).To(BeTrue())
		Expect(errors.CodeOf(err)).To(Equal("ALREADY_ACCEPTED"))
	})
	It("should reject permanently once the retry budget is spent", func() {
		texas.SubmitError = errors.Transport("NETWORK_ERROR", "connection reset")
		record := completeRecord("TX")
		results, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		row := results[0]
		Expect(row.RetryCount).To(Equal(1))

		for i := 0; i < 2; i++ {
			retried, err := engine.RetrySubmission(ctx, row.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(retried.Status).To(Equal(v1.SubmissionStatusRetry))
		}
		final, err := engine.RetrySubmission(ctx, row.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(final.Status).To(Equal(v1.SubmissionStatusRejected))
		Expect(final.ErrorMessage).To(HavePrefix("Max retries exceeded:"))
		Expect(final.NextRetryAt).To(BeNil())
	})
})

var _ = Describe("SweepDueRetries", func() {
	It("should re-attempt rows whose backoff has elapsed", func() {
		texas.Enqueue(aggregators.Result{RequiresRetry: true, ErrorCode: "THROTTLED"})
		record := completeRecord("TX")
		_, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())

		fakeClock.Step(2 * time.Minute)
		processed, err := engine.SweepDueRetries(ctx, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(processed).To(Equal(1))

		rows, err := engine.SubmissionsByRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows[0].Status).To(Equal(v1.SubmissionStatusAccepted))
	})
	It("should leave rows alone before their backoff elapses", func() {
		texas.Enqueue(aggregators.Result{RequiresRetry: true, ErrorCode: "THROTTLED"})
		record := completeRecord("TX")
		_, err := engine.SubmitRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())

		fakeClock.Step(30 * time.Second)
		processed, err := engine.SweepDueRetries(ctx, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(processed).To(BeZero())

		rows, err := engine.SubmissionsByRecord(ctx, record.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(rows[0].Status).To(Equal(v1.SubmissionStatusRetry))
	})
})
