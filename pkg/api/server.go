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

// Package api exposes the engines over HTTP. Identity is resolved upstream;
// the gateway forwards the acting principal in headers and this layer only
// parses it.
package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/logging"
	"github.com/neighborhood-lab/care-commons/pkg/providers/evv"
	"github.com/neighborhood-lab/care-commons/pkg/providers/submission"
	"github.com/neighborhood-lab/care-commons/pkg/providers/visit"
	"github.com/neighborhood-lab/care-commons/pkg/providers/vmur"
)

const maxBodyBytes = 1 << 20

// Server wires the engines behind the HTTP surface.
type Server struct {
	visits      *visit.Provider
	evv         *evv.Provider
	submissions *submission.Engine
	vmurs       *vmur.Provider
	validate    *validator.Validate
}

func NewServer(visits *visit.Provider, evvProvider *evv.Provider, submissions *submission.Engine, vmurs *vmur.Provider) *Server {
	return &Server{
		visits:      visits,
		evv:         evvProvider,
		submissions: submissions,
		vmurs:       vmurs,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/visits", func(r chi.Router) {
			r.Post("/", s.createVisit)
			r.Get("/", s.searchVisits)
			r.Get("/{visitID}", s.getVisit)
			r.Post("/{visitID}/assign", s.assignCaregiver)
			r.Post("/{visitID}/status", s.updateVisitStatus)
			r.Get("/{visitID}/evv-record", s.getRecordByVisit)
			r.Post("/generate", s.generateSchedule)
		})
		r.Route("/evv", func(r chi.Router) {
			r.Post("/clock-in", s.clockIn)
			r.Post("/records/{recordID}/clock-out", s.clockOut)
			r.Post("/records/{recordID}/override", s.applyOverride)
			r.Post("/records/{recordID}/submit", s.submitRecord)
		})
		r.Route("/submissions", func(r chi.Router) {
			r.Get("/dashboard", s.submissionDashboard)
			r.Post("/{submissionID}/retry", s.retrySubmission)
		})
		r.Route("/vmurs", func(r chi.Router) {
			r.Post("/", s.createVMUR)
			r.Get("/pending", s.pendingVMURs)
			r.Post("/{vmurID}/approve", s.approveVMUR)
			r.Post("/{vmurID}/deny", s.denyVMUR)
		})
	})
	return r
}

// principal parses the gateway-forwarded identity headers.
func principal(r *http.Request) (v1.Principal, error) {
	rawID := r.Header.Get("X-User-Id")
	if rawID == "" {
		return v1.Principal{}, errors.Permission("MISSING_PRINCIPAL", "request carries no authenticated principal")
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return v1.Principal{}, errors.Permission("INVALID_PRINCIPAL", "principal id is not a uuid")
	}
	p := v1.Principal{UserID: userID, Name: r.Header.Get("X-User-Name")}
	for _, role := range splitHeader(r.Header.Get("X-Roles")) {
		p.Roles = append(p.Roles, v1.Role(role))
	}
	p.Permissions = splitHeader(r.Header.Get("X-Permissions"))
	return p, nil
}

func splitHeader(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// decode reads, unmarshals and structurally validates a request body.
func (s *Server) decode(r *http.Request, into any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return errors.Validation("INVALID_BODY", "cannot parse request body").WithCause(err)
	}
	if err := s.validate.Struct(into); err != nil {
		verr := errors.Validation("INVALID_BODY", "request body failed validation").WithCause(err)
		var fields validator.ValidationErrors
		if stderrors.As(err, &fields) {
			var names []string
			for _, field := range fields {
				names = append(names, field.Namespace())
			}
			verr.WithDetail("invalidFields", names)
		}
		return verr
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Validation("INVALID_ID", "path parameter %s is not a uuid", name)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Kind    string         `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Kind: "Internal", Code: "INTERNAL", Message: "internal error"}

	var typed *errors.Error
	if stderrors.As(err, &typed) {
		body = errorBody{Kind: string(typed.Kind), Code: typed.Code, Message: typed.Message, Details: typed.Details}
		switch typed.Kind {
		case errors.KindValidation:
			status = http.StatusBadRequest
		case errors.KindNotFound:
			status = http.StatusNotFound
		case errors.KindPermission:
			status = http.StatusForbidden
		case errors.KindConflict:
			status = http.StatusConflict
		case errors.KindTransport:
			status = http.StatusBadGateway
		}
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Errorw("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}
