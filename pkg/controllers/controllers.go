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

// Package controllers hosts the background reconcilers: periodic loops that
// drive retries and expirations forward without any request in flight.
package controllers

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/neighborhood-lab/care-commons/pkg/logging"
)

// Controller is one periodic reconciler.
type Controller interface {
	Name() string
	Interval() time.Duration
	Reconcile(ctx context.Context) error
}

// Run drives a controller until the context is cancelled. Reconcile errors
// are logged and never stop the loop.
func Run(ctx context.Context, clk clock.Clock, controller Controller) error {
	log := logging.FromContext(ctx).With("controller", controller.Name())
	ctx = logging.WithLogger(ctx, log)

	timer := clk.NewTimer(controller.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
		}
		if err := controller.Reconcile(ctx); err != nil {
			log.Errorw("reconcile failed", "error", err)
		}
		timer.Reset(controller.Interval())
	}
}
