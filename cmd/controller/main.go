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

package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/neighborhood-lab/care-commons/pkg/controllers"
	"github.com/neighborhood-lab/care-commons/pkg/logging"
	"github.com/neighborhood-lab/care-commons/pkg/operator"
	"github.com/neighborhood-lab/care-commons/pkg/operator/options"
)

func main() {
	opts := &options.Options{}
	fs := flag.NewFlagSet("care-commons", flag.ExitOnError)
	opts.AddFlags(fs)
	_ = fs.Parse(os.Args[1:])

	log := logging.NewLogger(opts.Debug)
	defer log.Sync()
	ctx := logging.WithLogger(context.Background(), log)

	if err := opts.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	op, err := operator.New(ctx, opts)
	if err != nil {
		log.Fatalw("failed to wire operator", "error", err)
	}
	defer op.Store.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.HTTPPort),
		Handler:           op.Server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var group run.Group
	group.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	group.Add(func() error {
		log.Infow("starting http server", "port", opts.HTTPPort)
		return server.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	for _, controller := range op.Controllers {
		controller := controller
		loopCtx, cancel := context.WithCancel(ctx)
		group.Add(func() error {
			log.Infow("starting controller", "name", controller.Name())
			return controllers.Run(loopCtx, op.Clock, controller)
		}, func(error) {
			cancel()
		})
	}

	err = group.Run()
	var signalErr run.SignalError
	if err != nil && !stderrors.As(err, &signalErr) && !stderrors.Is(err, context.Canceled) {
		log.Fatalw("run group exited", "error", err)
	}
	log.Infow("shut down cleanly")
}
