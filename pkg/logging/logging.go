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

// Package logging carries a request-scoped zap logger through context so that
// engines and providers never hold a logger field of their own.
package logging

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

// NewLogger builds the process root logger. Debug selects the development
// config with human-readable output.
func NewLogger(debug bool) *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the context's logger, or a no-op logger if none was
// attached (library code must never fail for lack of a logger).
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok {
		return logger
	}
	return zap.NewNop().Sugar()
}
