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

// Package vmurexpiry flips pending unlock requests past their 30-day window
// to EXPIRED.
package vmurexpiry

import (
	"context"
	"time"

	"github.com/neighborhood-lab/care-commons/pkg/metrics"
	"github.com/neighborhood-lab/care-commons/pkg/providers/vmur"
)

// DefaultInterval is coarse on purpose; expiry has day-level granularity.
const DefaultInterval = 15 * time.Minute

type Controller struct {
	provider *vmur.Provider
	interval time.Duration
}

func NewController(provider *vmur.Provider, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{provider: provider, interval: interval}
}

func (c *Controller) Name() string            { return "vmur.expiry" }
func (c *Controller) Interval() time.Duration { return c.interval }

func (c *Controller) Reconcile(ctx context.Context) error {
	expired, err := c.provider.ExpireOld(ctx)
	if expired > 0 {
		metrics.VMURsExpired.Add(float64(expired))
	}
	return err
}
