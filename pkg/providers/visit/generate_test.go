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

package visit_test

import (
	"time"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/providers/visit"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("GenerateScheduleFromPattern", func() {
	var pattern *v1.ServicePattern

	BeforeEach(func() {
		pattern = &v1.ServicePattern{
			ObjectMeta: v1.ObjectMeta{ID: uuid.New(), OrganizationID: org, Version: 1},
			ClientID:   client,
			Type:       v1.PatternTypeRecurring,
			Rule: v1.RecurrenceRule{
				Frequency:  v1.FrequencyWeekly,
				Interval:   1,
				DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday},
				StartTime:  "09:00",
				Timezone:   "America/Chicago",
			},
			ServiceTypeCode: "T1019",
			DurationMinutes: 120,
			Status:          v1.PatternStatusActive,
		}
		Expect(store.CreatePattern(ctx, pattern)).To(Succeed())
		addr := testAddress()
		addresses.Addresses[client] = &addr
	})

	It("should create one unassigned visit per expanded date", func() {
		created, err := provider.GenerateScheduleFromPattern(ctx, pattern.ID,
			timeutil.MustDate("2025-06-02"), timeutil.MustDate("2025-06-13"), visit.GenerateOptions{}, actor)
		Expect(err).ToNot(HaveOccurred())
		// Mondays and Wednesdays: Jun 2, 4, 9, 11.
		Expect(created).To(HaveLen(4))
		for _, v := range created {
			Expect(v.Status).To(Equal(v1.VisitStatusUnassigned))
			Expect(v.PatternID).ToNot(BeNil())
			Expect(*v.PatternID).To(Equal(pattern.ID))
			Expect(v.ScheduledStartTime).To(Equal("09:00"))
			Expect(v.ScheduledEndTime).To(Equal("11:00"))
			Expect(v.Address.City).To(Equal("Austin"))
			Expect(v.VisitNumber).ToNot(BeEmpty())
		}
	})
	It("should resolve the client address once through the cache", func() {
		_, err := provider.GenerateScheduleFromPattern(ctx, pattern.ID,
			timeutil.MustDate("2025-06-02"), timeutil.MustDate("2025-06-13"), visit.GenerateOptions{}, actor)
		Expect(err).ToNot(HaveOccurred())
		Expect(addresses.CallCount()).To(Equal(1))
	})
	It("should skip organization holidays when asked", func() {
		store.SetHolidays(org, timeutil.MustDate("2025-06-04"))
		created, err := provider.GenerateScheduleFromPattern(ctx, pattern.ID,
			timeutil.MustDate("2025-06-02"), timeutil.MustDate("2025-06-13"),
			visit.GenerateOptions{SkipHolidays: true}, actor)
		Expect(err).ToNot(HaveOccurred())
		Expect(created).To(HaveLen(3))
		for _, v := range created {
			Expect(v.ServiceDate).ToNot(Equal(timeutil.MustDate("2025-06-04")))
		}
	})
	It("should skip dates that conflict with existing visits and continue", func() {
		existing := testVisit("2025-06-04", "09:30", "10:30")
		_, err := provider.Create(ctx, existing, actor)
		Expect(err).ToNot(HaveOccurred())

		created, err := provider.GenerateScheduleFromPattern(ctx, pattern.ID,
			timeutil.MustDate("2025-06-02"), timeutil.MustDate("2025-06-13"), visit.GenerateOptions{}, actor)
		Expect(err).ToNot(HaveOccurred())
		Expect(created).To(HaveLen(3))
		for _, v := range created {
			Expect(v.ServiceDate).ToNot(Equal(timeutil.MustDate("2025-06-04")))
		}
	})
	It("should auto-assign preferred caregivers when enabled", func() {
		preferred := uuid.New()
		pattern.PreferredCaregiverIDs = []uuid.UUID{preferred}
		Expect(store.UpdatePattern(ctx, pattern)).To(Succeed())

		created, err := provider.GenerateScheduleFromPattern(ctx, pattern.ID,
			timeutil.MustDate("2025-06-02"), timeutil.MustDate("2025-06-06"),
			visit.GenerateOptions{AutoAssign: true}, actor)
		Expect(err).ToNot(HaveOccurred())
		Expect(created).ToNot(BeEmpty())
		for _, v := range created {
			reloaded, err := provider.Get(ctx, v.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(reloaded.Status).To(Equal(v1.VisitStatusAssigned))
			Expect(reloaded.Assignment.CaregiverID).To(Equal(preferred))
			Expect(reloaded.Assignment.Method).To(Equal(v1.AssignmentMethodPreferred))
		}
	})
	It("should never auto-assign blocked caregivers", func() {
		blocked := uuid.New()
		pattern.PreferredCaregiverIDs = []uuid.UUID{blocked}
		pattern.BlockedCaregiverIDs = []uuid.UUID{blocked}
		Expect(store.UpdatePattern(ctx, pattern)).To(Succeed())

		created, err := provider.GenerateScheduleFromPattern(ctx, pattern.ID,
			timeutil.MustDate("2025-06-02"), timeutil.MustDate("2025-06-06"),
			visit.GenerateOptions{AutoAssign: true}, actor)
		Expect(err).ToNot(HaveOccurred())
		for _, v := range created {
			reloaded, err := provider.Get(ctx, v.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(reloaded.Status).To(Equal(v1.VisitStatusUnassigned))
		}
	})
})

var _ = Describe("EVV collaborator", func() {
	var created *v1.Visit

	BeforeEach(func() {
		var err error
		created, err = provider.Create(ctx, testVisit("2025-06-10", "09:00", "11:00"), actor)
		Expect(err).ToNot(HaveOccurred())
		_, err = provider.AssignCaregiver(ctx, created.ID, caregiver, v1.AssignmentMethodManual, actor)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should project the visit for the verification engine", func() {
		view, err := provider.GetVisitForEVV(ctx, created.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(view.ID).To(Equal(created.ID))
		Expect(view.OrganizationID).To(Equal(org))
		Expect(view.CaregiverID).To(Equal(caregiver))
		Expect(view.ServiceTypeCode).To(Equal("T1019"))
		Expect(view.Timezone).To(Equal("America/Chicago"))
		Expect(view.Status).To(Equal(v1.VisitStatusAssigned))
	})
	It("should allow clock-in only for the assigned caregiver", func() {
		eligibility, err := provider.CanClockIn(ctx, created.ID, caregiver)
		Expect(err).ToNot(HaveOccurred())
		Expect(eligibility.Allowed).To(BeTrue())

		eligibility, err = provider.CanClockIn(ctx, created.ID, uuid.New())
		Expect(err).ToNot(HaveOccurred())
		Expect(eligibility.Allowed).To(BeFalse())
		Expect(eligibility.Reason).To(ContainSubstring("not assigned"))
	})
	It("should deny clock-in for terminal statuses", func() {
		_, err := provider.UpdateStatus(ctx, created.ID, v1.VisitStatusCancelled, actor, "client cancelled", "", false)
		Expect(err).ToNot(HaveOccurred())

		eligibility, err := provider.CanClockIn(ctx, created.ID, caregiver)
		Expect(err).ToNot(HaveOccurred())
		Expect(eligibility.Allowed).To(BeFalse())
	})
	It("should deny clock-out before the visit is in progress", func() {
		eligibility, err := provider.CanClockOut(ctx, created.ID, caregiver)
		Expect(err).ToNot(HaveOccurred())
		Expect(eligibility.Allowed).To(BeFalse())
	})
	It("should walk intermediate states when driving to IN_PROGRESS", func() {
		recordID := uuid.New()
		Expect(provider.UpdateVisitStatus(ctx, created.ID, v1.VisitStatusInProgress, recordID)).To(Succeed())

		reloaded, err := provider.Get(ctx, created.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(reloaded.Status).To(Equal(v1.VisitStatusInProgress))

		var trail []v1.VisitStatus
		for _, change := range reloaded.StatusHistory {
			if change.Automatic {
				trail = append(trail, change.To)
				Expect(change.Reason).To(ContainSubstring(recordID.String()))
			}
		}
		Expect(trail).To(Equal([]v1.VisitStatus{
			v1.VisitStatusEnRoute,
			v1.VisitStatusArrived,
			v1.VisitStatusInProgress,
		}))
	})
	It("should be a no-op when already at the target status", func() {
		Expect(provider.UpdateVisitStatus(ctx, created.ID, v1.VisitStatusInProgress, uuid.New())).To(Succeed())
		before, err := provider.Get(ctx, created.ID)
		Expect(err).ToNot(HaveOccurred())

		Expect(provider.UpdateVisitStatus(ctx, created.ID, v1.VisitStatusInProgress, uuid.New())).To(Succeed())
		after, err := provider.Get(ctx, created.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(after.StatusHistory).To(HaveLen(len(before.StatusHistory)))
	})
	It("should fail when no automatic path exists", func() {
		_, err := provider.UpdateStatus(ctx, created.ID, v1.VisitStatusCancelled, actor, "client cancelled", "", false)
		Expect(err).ToNot(HaveOccurred())

		err = provider.UpdateVisitStatus(ctx, created.ID, v1.VisitStatusInProgress, uuid.New())
		Expect(err).To(HaveOccurred())
	})
})
