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

// Package aggregators defines the adapter contract for state-designated EVV
// vendor systems and the HTTP adapters for the vendors this core routes to.
// Payload wire formats are opaque to the core: adapters receive the record
// snapshot and answer with a structured result.
package aggregators

import (
	"context"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
)

// Result is the structured outcome of one submission attempt. A returned
// error from Submit signals a transport failure; Result carries vendor-level
// acceptance or rejection.
type Result struct {
	Success           bool
	ConfirmationID    string
	ErrorCode         string
	ErrorMessage      string
	RequiresRetry     bool
	RetryAfterSeconds int
	RawResponse       string
}

// Adapter submits EVV records to one aggregator.
type Adapter interface {
	// ID identifies the configured aggregator instance (one vendor may be
	// configured multiple times, e.g. per-MCO in Florida).
	ID() string
	Type() v1.AggregatorType
	// Submit delivers the record snapshot. Transport failures return an
	// error; vendor rejections return Success=false inside the Result.
	Submit(ctx context.Context, record *v1.EVVRecord, payload []byte) (Result, error)
}
