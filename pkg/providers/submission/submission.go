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

// Package submission implements delivery of completed EVV records to
// state-designated aggregators: routing, per-row retry with a fixed
// backoff schedule, and the dashboard aggregations on top of it.
package submission

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/neighborhood-lab/care-commons/pkg/aggregators"
	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/logging"
	"github.com/neighborhood-lab/care-commons/pkg/metrics"
	"github.com/neighborhood-lab/care-commons/pkg/storage"
)

// backoffSchedule is the delay before retry attempt N (1-based). Attempts
// beyond the schedule reuse the last entry.
var backoffSchedule = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	1800 * time.Second,
}

// BackoffFor returns the delay to apply before the given retry attempt.
func BackoffFor(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > len(backoffSchedule) {
		retryCount = len(backoffSchedule)
	}
	return backoffSchedule[retryCount-1]
}

// Engine submits EVV records to aggregators and drives the retry lifecycle.
type Engine struct {
	store  storage.Store
	router *Router
	clock  clock.Clock
}

func NewEngine(store storage.Store, router *Router, clk clock.Clock) *Engine {
	return &Engine{store: store, router: router, clock: clk}
}

// SubmitRecord submits a completed record to every aggregator its service
// state routes to. Each route produces its own submission row and succeeds
// or fails independently. Resubmitting a record that already has a
// non-rejected submission for a route returns that submission unchanged.
func (e *Engine) SubmitRecord(ctx context.Context, evvRecordID uuid.UUID) ([]*v1.AggregatorSubmission, error) {
	record, err := e.store.GetEVVRecord(ctx, evvRecordID)
	if err != nil {
		return nil, err
	}
	if err := validateForSubmission(record); err != nil {
		return nil, err
	}

	adapters, err := e.router.Route(record.ServiceAddress.State)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.SubmissionsByRecord(ctx, evvRecordID)
	if err != nil {
		return nil, err
	}
	latestByAggregator := map[string]*v1.AggregatorSubmission{}
	for _, submission := range existing {
		current, ok := latestByAggregator[submission.AggregatorID]
		if !ok || submission.CreatedAt.After(current.CreatedAt) {
			latestByAggregator[submission.AggregatorID] = submission
		}
	}

	payload, err := buildPayload(record)
	if err != nil {
		return nil, err
	}

	var (
		results []*v1.AggregatorSubmission
		errs    error
	)
	for _, adapter := range adapters {
		if prior, ok := latestByAggregator[adapter.ID()]; ok && prior.Status != v1.SubmissionStatusRejected {
			results = append(results, prior)
			continue
		}
		submission, err := e.submitOnce(ctx, record, adapter, payload)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		results = append(results, submission)
	}
	return results, errs
}

// RetrySubmission re-attempts one submission immediately, regardless of its
// scheduled nextRetryAt. Used by coordinators from the dashboard.
func (e *Engine) RetrySubmission(ctx context.Context, submissionID uuid.UUID) (*v1.AggregatorSubmission, error) {
	submission, err := e.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.Status == v1.SubmissionStatusAccepted {
		return nil, errors.Conflict("ALREADY_ACCEPTED", "submission %s was already accepted", submissionID)
	}
	record, err := e.store.GetEVVRecord(ctx, submission.EVVRecordID)
	if err != nil {
		return nil, err
	}
	adapter, err := e.adapterFor(submission)
	if err != nil {
		return nil, err
	}
	return submission, e.attempt(ctx, submission, record, adapter)
}

// SweepDueRetries claims RETRY submissions whose backoff has elapsed and
// re-attempts each one. Rows are claimed under row-level locking, so
// concurrent sweeps never double-submit. One row failing never stops the
// sweep; errors are aggregated.
func (e *Engine) SweepDueRetries(ctx context.Context, limit int) (int, error) {
	now := e.clock.Now().UTC()
	due, err := e.store.ClaimDueRetries(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	log := logging.FromContext(ctx)
	var errs error
	processed := 0
	for _, submission := range due {
		record, err := e.store.GetEVVRecord(ctx, submission.EVVRecordID)
		if err != nil {
			errs = multierr.Append(errs, err)
			e.release(ctx, submission, err)
			continue
		}
		adapter, err := e.adapterFor(submission)
		if err != nil {
			errs = multierr.Append(errs, err)
			e.release(ctx, submission, err)
			continue
		}
		if err := e.attempt(ctx, submission, record, adapter); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		processed++
		log.Debugw("retried submission", "submission-id", submission.ID, "status", submission.Status)
	}
	return processed, errs
}

// StatusCounts exposes the dashboard aggregation.
func (e *Engine) StatusCounts(ctx context.Context, organizationID uuid.UUID) ([]storage.SubmissionStatusCount, error) {
	return e.store.StatusCounts(ctx, organizationID)
}

// UpcomingRetries counts submissions whose next retry falls within the
// window from now.
func (e *Engine) UpcomingRetries(ctx context.Context, organizationID uuid.UUID, window time.Duration) (int64, error) {
	return e.store.CountRetryingBefore(ctx, organizationID, e.clock.Now().UTC().Add(window))
}

// SubmissionsByRecord lists every submission row for one record.
func (e *Engine) SubmissionsByRecord(ctx context.Context, evvRecordID uuid.UUID) ([]*v1.AggregatorSubmission, error) {
	return e.store.SubmissionsByRecord(ctx, evvRecordID)
}

// submitOnce creates the PENDING row, performs the first attempt, and
// persists the outcome.
func (e *Engine) submitOnce(ctx context.Context, record *v1.EVVRecord, adapter aggregators.Adapter, payload []byte) (*v1.AggregatorSubmission, error) {
	now := e.clock.Now().UTC()
	submission := &v1.AggregatorSubmission{
		ObjectMeta: v1.ObjectMeta{
			ID:             uuid.New(),
			OrganizationID: record.OrganizationID,
			BranchID:       record.BranchID,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		StateCode:        record.ServiceAddress.State,
		EVVRecordID:      record.ID,
		AggregatorID:     adapter.ID(),
		AggregatorType:   adapter.Type(),
		Payload:          payload,
		SubmissionFormat: payloadFormat,
		SubmittedAt:      now,
		Status:           v1.SubmissionStatusPending,
		MaxRetries:       v1.DefaultMaxSubmissionRetries,
	}
	if err := e.store.CreateSubmission(ctx, submission); err != nil {
		return nil, err
	}
	if err := e.attempt(ctx, submission, record, adapter); err != nil {
		return submission, err
	}
	return submission, nil
}

// attempt performs one adapter call and persists the resulting state
// transition on the submission row. Transport failures never escape: they
// are recorded on the row and the retry schedule takes over.
func (e *Engine) attempt(ctx context.Context, submission *v1.AggregatorSubmission, record *v1.EVVRecord, adapter aggregators.Adapter) error {
	result, err := adapter.Submit(ctx, record, submission.Payload)
	now := e.clock.Now().UTC()
	submission.UpdatedAt = now

	switch {
	case err != nil:
		// Transport failure. Schedule a retry if budget remains.
		submission.ErrorCode = errors.CodeOf(err)
		if submission.ErrorCode == "" {
			submission.ErrorCode = "NETWORK_ERROR"
		}
		submission.ErrorMessage = err.Error()
		e.scheduleRetry(submission, now, 0)
	case result.Success:
		submission.Status = v1.SubmissionStatusAccepted
		submission.AggregatorConfirmationID = result.ConfirmationID
		submission.AggregatorReceivedAt = &now
		submission.RawResponse = result.RawResponse
		submission.ErrorCode = ""
		submission.ErrorMessage = ""
		submission.NextRetryAt = nil
	case result.RequiresRetry:
		submission.ErrorCode = result.ErrorCode
		submission.ErrorMessage = result.ErrorMessage
		submission.RawResponse = result.RawResponse
		e.scheduleRetry(submission, now, result.RetryAfterSeconds)
	default:
		// Permanent vendor rejection.
		submission.Status = v1.SubmissionStatusRejected
		submission.ErrorCode = result.ErrorCode
		submission.ErrorMessage = result.ErrorMessage
		submission.RawResponse = result.RawResponse
		submission.NextRetryAt = nil
	}

	metrics.Submissions.WithLabelValues(adapter.ID(), string(submission.Status)).Inc()
	if updateErr := e.store.UpdateSubmission(ctx, submission); updateErr != nil {
		return updateErr
	}
	if submission.Status == v1.SubmissionStatusAccepted {
		e.markRecordSubmitted(ctx, record, now)
	}
	if err != nil {
		logging.FromContext(ctx).Warnw("aggregator transport failure, submission queued for retry",
			"submission-id", submission.ID, "aggregator-id", adapter.ID(), "error", err)
	}
	return nil
}

// scheduleRetry flips the row to RETRY, or to REJECTED when the retry
// budget is exhausted. A vendor-supplied Retry-After wins over the default
// schedule.
func (e *Engine) scheduleRetry(submission *v1.AggregatorSubmission, now time.Time, retryAfterSeconds int) {
	if submission.RetryCount >= submission.MaxRetries {
		submission.Status = v1.SubmissionStatusRejected
		submission.ErrorMessage = "Max retries exceeded: " + submission.ErrorMessage
		submission.NextRetryAt = nil
		return
	}
	submission.RetryCount++
	delay := BackoffFor(submission.RetryCount)
	if retryAfterSeconds > 0 {
		delay = time.Duration(retryAfterSeconds) * time.Second
	}
	next := now.Add(delay)
	submission.Status = v1.SubmissionStatusRetry
	submission.NextRetryAt = &next
}

// release returns a claimed IN_FLIGHT row to RETRY after a sweep-side
// failure that never reached the adapter.
func (e *Engine) release(ctx context.Context, submission *v1.AggregatorSubmission, cause error) {
	now := e.clock.Now().UTC()
	submission.ErrorCode = errors.CodeOf(cause)
	submission.ErrorMessage = cause.Error()
	submission.UpdatedAt = now
	e.scheduleRetry(submission, now, 0)
	if err := e.store.UpdateSubmission(ctx, submission); err != nil {
		logging.FromContext(ctx).Errorw("failed to release claimed submission",
			"submission-id", submission.ID, "error", err)
	}
}

func (e *Engine) markRecordSubmitted(ctx context.Context, record *v1.EVVRecord, now time.Time) {
	if record.PayorSubmission.SubmittedToAggregator {
		return
	}
	record.PayorSubmission = v1.PayorSubmissionStatus{SubmittedToAggregator: true, SubmittedAt: &now}
	record.UpdatedAt = now
	if err := e.store.UpdateEVVRecord(ctx, record); err != nil {
		logging.FromContext(ctx).Warnw("accepted submission but record payor status update failed",
			"evv-record-id", record.ID, "error", err)
	}
}

func (e *Engine) adapterFor(submission *v1.AggregatorSubmission) (aggregators.Adapter, error) {
	adapters, err := e.router.Route(submission.StateCode)
	if err != nil {
		return nil, err
	}
	for _, adapter := range adapters {
		if adapter.ID() == submission.AggregatorID {
			return adapter, nil
		}
	}
	return nil, errors.Validation("AGGREGATOR_UNCONFIGURED", "aggregator %q is no longer configured for state %q", submission.AggregatorID, submission.StateCode)
}

// validateForSubmission checks the record is complete enough for any
// aggregator and names every missing field at once.
func validateForSubmission(record *v1.EVVRecord) error {
	if record.Status != v1.EVVRecordStatusComplete && record.Status != v1.EVVRecordStatusAmended {
		return errors.Validation("RECORD_NOT_COMPLETE", "record %s is %s, only COMPLETE or AMENDED records can be submitted", record.ID, record.Status)
	}

	var missing []string
	if record.ClientID == uuid.Nil && record.ClientMedicaidID == "" {
		missing = append(missing, "clientId")
	}
	if record.ClockInTime.IsZero() {
		missing = append(missing, "clockInTime")
	}
	if record.ClockOutTime == nil {
		missing = append(missing, "clockOutTime")
	}
	if record.ClockOutVerification == nil {
		missing = append(missing, "clockOutVerification")
	}
	if record.TotalDuration == nil {
		missing = append(missing, "totalDurationMinutes")
	}
	if record.ServiceTypeCode == "" {
		missing = append(missing, "serviceTypeCode")
	}
	if record.ServiceAddress.State == "" {
		missing = append(missing, "serviceAddress.state")
	}
	if !record.ServiceAddress.HasCoordinates() {
		missing = append(missing, "serviceAddress.coordinates")
	}
	if record.IntegrityHash == "" {
		missing = append(missing, "integrityHash")
	}
	if len(missing) > 0 {
		return errors.Validation("RECORD_INCOMPLETE", "record %s is missing required fields: %s", record.ID, strings.Join(missing, ", ")).
			WithDetail("missingFields", missing)
	}

	if record.VerificationLevel == v1.VerificationLevelException && !hasOverride(record) {
		return errors.Validation("VERIFICATION_EXCEPTION", "record %s has exception-level verification and no supervisor override", record.ID)
	}
	return nil
}

func hasOverride(record *v1.EVVRecord) bool {
	if record.ClockInVerification.Override != nil {
		return true
	}
	return record.ClockOutVerification != nil && record.ClockOutVerification.Override != nil
}
