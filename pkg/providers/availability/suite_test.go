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

package availability_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/fake"
	"github.com/neighborhood-lab/care-commons/pkg/providers/availability"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	ctx       context.Context
	store     *fake.Store
	engine    *availability.Engine
	caregiver uuid.UUID
	date      timeutil.Date
)

func TestAvailability(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Availability")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	store = fake.NewStore()
	engine = availability.NewEngine(store)
	caregiver = uuid.New()
	date = timeutil.MustDate("2025-06-10")
})

func seedVisit(start, end string, status v1.VisitStatus) {
	v := &v1.Visit{
		ObjectMeta:         v1.ObjectMeta{ID: uuid.New(), OrganizationID: uuid.New(), Version: 1},
		ClientID:           uuid.New(),
		ServiceDate:        date,
		ScheduledStartTime: start,
		ScheduledEndTime:   end,
		Status:             status,
		Assignment:         &v1.Assignment{CaregiverID: caregiver},
	}
	Expect(store.CreateVisit(ctx, v)).To(Succeed())
}

var _ = Describe("IsAvailable", func() {
	It("should be available with an empty calendar", func() {
		Expect(engine.IsAvailable(ctx, caregiver, date, "09:00", "10:00", true)).To(BeTrue())
	})
	It("should be busy during an existing visit", func() {
		seedVisit("09:00", "11:00", v1.VisitStatusAssigned)
		Expect(engine.IsAvailable(ctx, caregiver, date, "10:00", "12:00", false)).To(BeFalse())
	})
	It("should allow back-to-back visits without the travel buffer", func() {
		seedVisit("09:00", "11:00", v1.VisitStatusAssigned)
		Expect(engine.IsAvailable(ctx, caregiver, date, "11:00", "12:00", false)).To(BeTrue())
	})
	It("should block spans inside the travel buffer", func() {
		seedVisit("09:00", "11:00", v1.VisitStatusAssigned)
		Expect(engine.IsAvailable(ctx, caregiver, date, "11:15", "12:15", true)).To(BeFalse())
		Expect(engine.IsAvailable(ctx, caregiver, date, "11:30", "12:30", true)).To(BeTrue())
	})
	It("should ignore visits in non-busy statuses", func() {
		seedVisit("09:00", "11:00", v1.VisitStatusCancelled)
		seedVisit("12:00", "13:00", v1.VisitStatusCompleted)
		Expect(engine.IsAvailable(ctx, caregiver, date, "09:30", "10:30", true)).To(BeTrue())
	})
	It("should answer whole-day availability with empty bounds", func() {
		Expect(engine.IsAvailable(ctx, caregiver, date, "", "", false)).To(BeTrue())
		seedVisit("09:00", "10:00", v1.VisitStatusConfirmed)
		Expect(engine.IsAvailable(ctx, caregiver, date, "", "", false)).To(BeFalse())
	})
	It("should reject inverted spans", func() {
		_, err := engine.IsAvailable(ctx, caregiver, date, "12:00", "09:00", false)
		Expect(errors.IsValidation(err)).To(BeTrue())
	})
})

var _ = Describe("Slots", func() {
	It("should step through the working day", func() {
		slots, err := engine.Slots(ctx, caregiver, date, 60, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(slots).To(HaveLen(10))
		Expect(slots[0].Start).To(Equal("08:00"))
		Expect(slots[len(slots)-1].End).To(Equal("18:00"))
		for _, slot := range slots {
			Expect(slot.Available).To(BeTrue())
		}
	})
	It("should mark conflicting slots unavailable with a reason", func() {
		seedVisit("10:00", "11:00", v1.VisitStatusInProgress)
		slots, err := engine.Slots(ctx, caregiver, date, 60, false)
		Expect(err).ToNot(HaveOccurred())
		for _, slot := range slots {
			if slot.Start == "10:00" {
				Expect(slot.Available).To(BeFalse())
				Expect(slot.Reason).To(ContainSubstring("10:00"))
			}
		}
	})
})
