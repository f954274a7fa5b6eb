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

package fake

import (
	"context"
	"sync"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
)

// StatusUpdate records one UpdateVisitStatus call on the fake visit source.
type StatusUpdate struct {
	VisitID     uuid.UUID
	Status      v1.VisitStatus
	EVVRecordID uuid.UUID
}

// VisitSource is a programmable evv.VisitSource.
type VisitSource struct {
	mu sync.Mutex

	Visits map[uuid.UUID]*v1.VisitForEVV

	// ClockInEligibility and ClockOutEligibility default to allowed when
	// left zero-valued with Allowed set.
	ClockInEligibility  v1.ClockEligibility
	ClockOutEligibility v1.ClockEligibility

	StatusUpdates []StatusUpdate
	UpdateErr     error
}

func NewVisitSource() *VisitSource {
	return &VisitSource{
		Visits:              map[uuid.UUID]*v1.VisitForEVV{},
		ClockInEligibility:  v1.ClockEligibility{Allowed: true},
		ClockOutEligibility: v1.ClockEligibility{Allowed: true},
	}
}

func (s *VisitSource) GetVisitForEVV(_ context.Context, visitID uuid.UUID) (*v1.VisitForEVV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	visit, ok := s.Visits[visitID]
	if !ok {
		return nil, errors.NotFound("visit", visitID.String())
	}
	return clone(visit), nil
}

func (s *VisitSource) CanClockIn(_ context.Context, _, _ uuid.UUID) (v1.ClockEligibility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ClockInEligibility, nil
}

func (s *VisitSource) CanClockOut(_ context.Context, _, _ uuid.UUID) (v1.ClockEligibility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ClockOutEligibility, nil
}

func (s *VisitSource) UpdateVisitStatus(_ context.Context, visitID uuid.UUID, status v1.VisitStatus, evvRecordID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.StatusUpdates = append(s.StatusUpdates, StatusUpdate{VisitID: visitID, Status: status, EVVRecordID: evvRecordID})
	if visit, ok := s.Visits[visitID]; ok {
		visit.Status = status
	}
	return nil
}

// ClientSource is a programmable evv.ClientSource.
type ClientSource struct {
	mu      sync.Mutex
	Clients map[uuid.UUID]*v1.ClientForEVV
}

func NewClientSource() *ClientSource {
	return &ClientSource{Clients: map[uuid.UUID]*v1.ClientForEVV{}}
}

func (s *ClientSource) GetClientForEVV(_ context.Context, clientID uuid.UUID) (*v1.ClientForEVV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.Clients[clientID]
	if !ok {
		return nil, errors.NotFound("client", clientID.String())
	}
	return clone(client), nil
}

// CaregiverSource is a programmable evv.CaregiverSource.
type CaregiverSource struct {
	mu         sync.Mutex
	Caregivers map[uuid.UUID]*v1.CaregiverForEVV

	Authorization v1.ServiceAuthorization
}

func NewCaregiverSource() *CaregiverSource {
	return &CaregiverSource{
		Caregivers:    map[uuid.UUID]*v1.CaregiverForEVV{},
		Authorization: v1.ServiceAuthorization{Authorized: true},
	}
}

func (s *CaregiverSource) GetCaregiverForEVV(_ context.Context, caregiverID uuid.UUID) (*v1.CaregiverForEVV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	caregiver, ok := s.Caregivers[caregiverID]
	if !ok {
		return nil, errors.NotFound("caregiver", caregiverID.String())
	}
	return clone(caregiver), nil
}

func (s *CaregiverSource) CanProvideService(_ context.Context, _ uuid.UUID, _ string, _ uuid.UUID) (v1.ServiceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Authorization, nil
}

// AddressSource is a programmable address.Source.
type AddressSource struct {
	mu        sync.Mutex
	Addresses map[uuid.UUID]*v1.ServiceAddress
	Calls     int
}

func NewAddressSource() *AddressSource {
	return &AddressSource{Addresses: map[uuid.UUID]*v1.ServiceAddress{}}
}

func (s *AddressSource) GetClientAddress(_ context.Context, clientID uuid.UUID) (v1.ServiceAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	address, ok := s.Addresses[clientID]
	if !ok {
		return v1.ServiceAddress{}, errors.NotFound("client address", clientID.String())
	}
	return *clone(address), nil
}

// CallCount reports how many lookups reached the source (past any cache).
func (s *AddressSource) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}
