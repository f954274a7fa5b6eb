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

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/providers/evv"
	"github.com/neighborhood-lab/care-commons/pkg/providers/visit"
	"github.com/neighborhood-lab/care-commons/pkg/providers/vmur"
	"github.com/neighborhood-lab/care-commons/pkg/storage"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

type createVisitRequest struct {
	OrganizationID     uuid.UUID         `json:"organizationId" validate:"required"`
	BranchID           uuid.UUID         `json:"branchId"`
	ClientID           uuid.UUID         `json:"clientId" validate:"required"`
	Type               v1.VisitType      `json:"type"`
	ServiceDate        timeutil.Date     `json:"serviceDate" validate:"required"`
	ScheduledStartTime string            `json:"scheduledStartTime" validate:"required"`
	ScheduledEndTime   string            `json:"scheduledEndTime" validate:"required"`
	Timezone           string            `json:"timezone" validate:"required"`
	ServiceTypeCode    string            `json:"serviceTypeCode" validate:"required"`
	Address            v1.ServiceAddress `json:"address" validate:"required"`
}

func (s *Server) createVisit(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createVisitRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	visitType := req.Type
	if visitType == "" {
		visitType = v1.VisitTypeAdHoc
	}
	created, err := s.visits.Create(r.Context(), &v1.Visit{
		ObjectMeta: v1.ObjectMeta{
			OrganizationID: req.OrganizationID,
			BranchID:       req.BranchID,
		},
		ClientID:           req.ClientID,
		Type:               visitType,
		ServiceDate:        req.ServiceDate,
		ScheduledStartTime: req.ScheduledStartTime,
		ScheduledEndTime:   req.ScheduledEndTime,
		Timezone:           req.Timezone,
		ServiceTypeCode:    req.ServiceTypeCode,
		Address:            req.Address,
	}, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getVisit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "visitID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	found, err := s.visits.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

type pagedResponse struct {
	Items any   `json:"items"`
	Total int64 `json:"total"`
}

func (s *Server) searchVisits(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	organizationID, err := uuid.Parse(query.Get("organizationId"))
	if err != nil {
		writeError(w, r, invalidQuery("organizationId"))
		return
	}
	search := storage.VisitSearch{
		OrganizationID: organizationID,
		Sort:           storage.VisitSortField(query.Get("sort")),
		Order:          storage.SortOrder(query.Get("order")),
		Page:           pageFromQuery(query.Get("limit"), query.Get("offset")),
	}
	if raw := query.Get("clientId"); raw != "" {
		clientID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, invalidQuery("clientId"))
			return
		}
		search.ClientID = &clientID
	}
	if raw := query.Get("caregiverId"); raw != "" {
		caregiverID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, invalidQuery("caregiverId"))
			return
		}
		search.CaregiverID = &caregiverID
	}
	if raw := query.Get("from"); raw != "" {
		from, err := timeutil.ParseDate(raw)
		if err != nil {
			writeError(w, r, invalidQuery("from"))
			return
		}
		search.DateFrom = &from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := timeutil.ParseDate(raw)
		if err != nil {
			writeError(w, r, invalidQuery("to"))
			return
		}
		search.DateTo = &to
	}
	for _, status := range splitHeader(query.Get("status")) {
		search.Statuses = append(search.Statuses, v1.VisitStatus(status))
	}

	visits, total, err := s.visits.Search(r.Context(), search)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pagedResponse{Items: visits, Total: total})
}

type assignRequest struct {
	CaregiverID uuid.UUID           `json:"caregiverId" validate:"required"`
	Method      v1.AssignmentMethod `json:"method"`
}

func (s *Server) assignCaregiver(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	visitID, err := pathUUID(r, "visitID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req assignRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	method := req.Method
	if method == "" {
		method = v1.AssignmentMethodManual
	}
	updated, err := s.visits.AssignCaregiver(r.Context(), visitID, req.CaregiverID, method, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type statusRequest struct {
	Status v1.VisitStatus `json:"status" validate:"required"`
	Reason string         `json:"reason"`
	Notes  string         `json:"notes"`
}

func (s *Server) updateVisitStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	visitID, err := pathUUID(r, "visitID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.visits.UpdateStatus(r.Context(), visitID, req.Status, actor, req.Reason, req.Notes, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type generateRequest struct {
	PatternID    uuid.UUID     `json:"patternId" validate:"required"`
	From         timeutil.Date `json:"from" validate:"required"`
	To           timeutil.Date `json:"to" validate:"required"`
	AutoAssign   bool          `json:"autoAssign"`
	SkipHolidays bool          `json:"skipHolidays"`
}

func (s *Server) generateSchedule(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req generateRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.visits.GenerateScheduleFromPattern(r.Context(), req.PatternID, req.From, req.To,
		visit.GenerateOptions{AutoAssign: req.AutoAssign, SkipHolidays: req.SkipHolidays}, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pagedResponse{Items: created, Total: int64(len(created))})
}

type clockInRequest struct {
	VisitID     uuid.UUID     `json:"visitId" validate:"required"`
	CaregiverID uuid.UUID     `json:"caregiverId" validate:"required"`
	Event       v1.ClockEvent `json:"event" validate:"required"`
}

func (s *Server) clockIn(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req clockInRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	record, err := s.evv.ClockIn(r.Context(), evv.ClockInInput{
		VisitID:     req.VisitID,
		CaregiverID: req.CaregiverID,
		Event:       req.Event,
	}, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

type clockOutRequest struct {
	CaregiverID uuid.UUID     `json:"caregiverId" validate:"required"`
	Event       v1.ClockEvent `json:"event" validate:"required"`

	ClientAttestation *attestationRequest `json:"clientAttestation"`
}

type attestationRequest struct {
	SignerID      uuid.UUID          `json:"signerId" validate:"required"`
	SignerName    string             `json:"signerName" validate:"required"`
	Type          v1.AttestationType `json:"type" validate:"required"`
	SignatureBlob []byte             `json:"signatureBlob"`
}

func (s *Server) clockOut(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recordID, err := pathUUID(r, "recordID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req clockOutRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	input := evv.ClockOutInput{
		EVVRecordID: recordID,
		CaregiverID: req.CaregiverID,
		Event:       req.Event,
	}
	if req.ClientAttestation != nil {
		input.ClientAttestation = &evv.AttestationInput{
			SignerID:      req.ClientAttestation.SignerID,
			SignerName:    req.ClientAttestation.SignerName,
			Type:          req.ClientAttestation.Type,
			SignatureBlob: req.ClientAttestation.SignatureBlob,
		}
	}
	record, err := s.evv.ClockOut(r.Context(), input, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type overrideRequest struct {
	Entry             evv.OverrideEntry `json:"entry" validate:"required"`
	Reason            string            `json:"reason" validate:"required"`
	ReasonCode        string            `json:"reasonCode" validate:"required"`
	SupervisorTitle   string            `json:"supervisorTitle"`
	ApprovalAuthority string            `json:"approvalAuthority"`
	Notes             string            `json:"notes"`
}

func (s *Server) applyOverride(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recordID, err := pathUUID(r, "recordID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req overrideRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	record, err := s.evv.ApplyManualOverride(r.Context(), evv.OverrideInput{
		EVVRecordID:       recordID,
		Entry:             req.Entry,
		Reason:            req.Reason,
		ReasonCode:        req.ReasonCode,
		SupervisorTitle:   req.SupervisorTitle,
		ApprovalAuthority: req.ApprovalAuthority,
		Notes:             req.Notes,
	}, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) getRecordByVisit(w http.ResponseWriter, r *http.Request) {
	visitID, err := pathUUID(r, "visitID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	record, err := s.evv.RecordByVisit(r.Context(), visitID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) submitRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathUUID(r, "recordID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	submissions, err := s.submissions.SubmitRecord(r.Context(), recordID)
	if err != nil && len(submissions) == 0 {
		writeError(w, r, err)
		return
	}
	// Partial fan-out failure still reports the rows that were created.
	writeJSON(w, http.StatusOK, pagedResponse{Items: submissions, Total: int64(len(submissions))})
}

func (s *Server) retrySubmission(w http.ResponseWriter, r *http.Request) {
	submissionID, err := pathUUID(r, "submissionID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	submission, err := s.submissions.RetrySubmission(r.Context(), submissionID)
	if err != nil && submission == nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submission)
}

type dashboardResponse struct {
	Counts         []storage.SubmissionStatusCount `json:"counts"`
	RetryingInHour int64                           `json:"retryingWithinHour"`
}

func (s *Server) submissionDashboard(w http.ResponseWriter, r *http.Request) {
	organizationID, err := uuid.Parse(r.URL.Query().Get("organizationId"))
	if err != nil {
		writeError(w, r, invalidQuery("organizationId"))
		return
	}
	counts, err := s.submissions.StatusCounts(r.Context(), organizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	upcoming, err := s.submissions.UpcomingRetries(r.Context(), organizationID, time.Hour)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{Counts: counts, RetryingInHour: upcoming})
}

type createVMURRequest struct {
	EVVRecordID   uuid.UUID         `json:"evvRecordId" validate:"required"`
	ReasonCode    v1.VMURReasonCode `json:"reasonCode" validate:"required"`
	ReasonDetails string            `json:"reasonDetails"`
	Correction    v1.VMURCorrection `json:"correction"`
}

func (s *Server) createVMUR(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createVMURRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.vmurs.Create(r.Context(), vmur.CreateInput{
		EVVRecordID:   req.EVVRecordID,
		ReasonCode:    req.ReasonCode,
		ReasonDetails: req.ReasonDetails,
		Correction:    req.Correction,
	}, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// pendingVMURItem decorates a request with its age and time to expiry for
// the review queue.
type pendingVMURItem struct {
	*v1.VMUR
	AgeDays      int `json:"ageDays"`
	DaysToExpiry int `json:"daysToExpiry"`
}

func (s *Server) pendingVMURs(w http.ResponseWriter, r *http.Request) {
	organizationID, err := uuid.Parse(r.URL.Query().Get("organizationId"))
	if err != nil {
		writeError(w, r, invalidQuery("organizationId"))
		return
	}
	pending, err := s.vmurs.Pending(r.Context(), organizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := time.Now().UTC()
	items := make([]pendingVMURItem, 0, len(pending))
	for _, request := range pending {
		items = append(items, pendingVMURItem{
			VMUR:         request,
			AgeDays:      int(now.Sub(request.RequestedAt).Hours() / 24),
			DaysToExpiry: int(request.ExpiresAt.Sub(now).Hours() / 24),
		})
	}
	writeJSON(w, http.StatusOK, pagedResponse{Items: items, Total: int64(len(items))})
}

func (s *Server) approveVMUR(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	vmurID, err := pathUUID(r, "vmurID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	decided, err := s.vmurs.Approve(r.Context(), vmurID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

type denyRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (s *Server) denyVMUR(w http.ResponseWriter, r *http.Request) {
	actor, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	vmurID, err := pathUUID(r, "vmurID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req denyRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	decided, err := s.vmurs.Deny(r.Context(), vmurID, req.Reason, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func invalidQuery(name string) error {
	return errors.Validation("INVALID_QUERY", "query parameter %s is missing or malformed", name)
}

func pageFromQuery(rawLimit, rawOffset string) storage.Page {
	page := storage.Page{}
	if limit, err := strconv.Atoi(rawLimit); err == nil {
		page.Limit = limit
	}
	if offset, err := strconv.Atoi(rawOffset); err == nil {
		page.Offset = offset
	}
	return page
}
