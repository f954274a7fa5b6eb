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

// Package submissionretry sweeps aggregator submissions whose retry backoff
// has elapsed and re-attempts them.
package submissionretry

import (
	"context"
	"time"

	"github.com/neighborhood-lab/care-commons/pkg/logging"
	"github.com/neighborhood-lab/care-commons/pkg/metrics"
	"github.com/neighborhood-lab/care-commons/pkg/providers/submission"
)

const (
	// DefaultInterval balances retry latency against sweep load; the
	// shortest scheduled backoff is 60s.
	DefaultInterval = 30 * time.Second
	// batchLimit bounds how many rows one sweep claims.
	batchLimit = 100
)

type Controller struct {
	engine   *submission.Engine
	interval time.Duration
}

func NewController(engine *submission.Engine, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{engine: engine, interval: interval}
}

func (c *Controller) Name() string            { return "submission.retry" }
func (c *Controller) Interval() time.Duration { return c.interval }

func (c *Controller) Reconcile(ctx context.Context) error {
	processed, err := c.engine.SweepDueRetries(ctx, batchLimit)
	if processed > 0 {
		metrics.SubmissionRetriesSwept.Add(float64(processed))
		logging.FromContext(ctx).Infow("swept due submission retries", "processed", processed)
	}
	return err
}
