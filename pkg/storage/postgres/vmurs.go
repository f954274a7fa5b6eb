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

package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
)

func (s *Store) CreateVMUR(ctx context.Context, vmur *v1.VMUR) error {
	doc, err := marshalDoc(vmur)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vmurs (id, organization_id, evv_record_id, status, requested_at, expires_at,
		                   version, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		vmur.ID, vmur.OrganizationID, vmur.EVVRecordID, vmur.Status, vmur.RequestedAt,
		vmur.ExpiresAt, vmur.Version, vmur.CreatedAt, vmur.UpdatedAt, doc)
	return err
}

func (s *Store) GetVMUR(ctx context.Context, id uuid.UUID) (*v1.VMUR, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM vmurs WHERE id = $1`, id).Scan(&doc)
	if isNoRows(err) {
		return nil, errors.NotFound("unlock request", id.String())
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[v1.VMUR](doc)
}

func (s *Store) UpdateVMUR(ctx context.Context, vmur *v1.VMUR) error {
	previous := vmur.Version
	vmur.Version++
	doc, err := marshalDoc(vmur)
	if err != nil {
		vmur.Version = previous
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE vmurs
		SET status = $2, version = $3, updated_at = $4, doc = $5
		WHERE id = $1 AND version = $6`,
		vmur.ID, vmur.Status, vmur.Version, vmur.UpdatedAt, doc, previous)
	if err != nil {
		vmur.Version = previous
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		vmur.Version = previous
		return err
	}
	if affected == 0 {
		vmur.Version = previous
		return errors.Conflict("VERSION_CONFLICT", "unlock request %s was modified concurrently", vmur.ID)
	}
	return nil
}

func (s *Store) PendingVMURs(ctx context.Context, organizationID uuid.UUID) ([]*v1.VMUR, error) {
	docs, err := s.queryDocs(ctx, `
		SELECT doc FROM vmurs
		WHERE organization_id = $1 AND status = $2
		ORDER BY requested_at`,
		organizationID, v1.VMURStatusPending)
	if err != nil {
		return nil, err
	}
	return unmarshalDocs[v1.VMUR](docs)
}

func (s *Store) PendingVMURsExpiredBefore(ctx context.Context, cutoff time.Time) ([]*v1.VMUR, error) {
	docs, err := s.queryDocs(ctx, `
		SELECT doc FROM vmurs
		WHERE status = $1 AND expires_at < $2`,
		v1.VMURStatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	return unmarshalDocs[v1.VMUR](docs)
}
