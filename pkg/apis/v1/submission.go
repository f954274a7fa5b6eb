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

package v1

import (
	"time"

	"github.com/google/uuid"
)

// AggregatorType identifies a state-designated EVV vendor system.
type AggregatorType string

const (
	AggregatorHHAeXchange AggregatorType = "HHAEXCHANGE"
	AggregatorSandata     AggregatorType = "SANDATA"
	AggregatorTellus      AggregatorType = "TELLUS"
)

// SubmissionStatus is the lifecycle of one aggregator submission row.
// IN_FLIGHT is an internal intermediate state held only while an adapter
// call is in progress during a retry sweep; it reverts to RETRY on failure.
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "PENDING"
	SubmissionStatusAccepted SubmissionStatus = "ACCEPTED"
	SubmissionStatusRejected SubmissionStatus = "REJECTED"
	SubmissionStatusRetry    SubmissionStatus = "RETRY"
	SubmissionStatusInFlight SubmissionStatus = "IN_FLIGHT"
)

// DefaultMaxSubmissionRetries bounds retry attempts per submission.
const DefaultMaxSubmissionRetries = 3

// AggregatorSubmission is one attempt stream against one aggregator for one
// EVV record. Immutable once created except for its retry/outcome fields.
type AggregatorSubmission struct {
	ObjectMeta

	StateCode      string         `json:"stateCode"`
	EVVRecordID    uuid.UUID      `json:"evvRecordId"`
	AggregatorID   string         `json:"aggregatorId"`
	AggregatorType AggregatorType `json:"aggregatorType"`

	Payload          []byte `json:"payload"`
	SubmissionFormat string `json:"submissionFormat"`

	SubmittedAt time.Time        `json:"submittedAt"`
	Status      SubmissionStatus `json:"status"`

	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	RawResponse  string `json:"rawResponse,omitempty"`

	RetryCount  int        `json:"retryCount"`
	MaxRetries  int        `json:"maxRetries"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`

	AggregatorReceivedAt     *time.Time `json:"aggregatorReceivedAt,omitempty"`
	AggregatorConfirmationID string     `json:"aggregatorConfirmationId,omitempty"`
}
