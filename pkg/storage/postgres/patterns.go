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
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

func (s *Store) CreatePattern(ctx context.Context, pattern *v1.ServicePattern) error {
	doc, err := marshalDoc(pattern)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_patterns (id, organization_id, branch_id, client_id, status, version, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pattern.ID, pattern.OrganizationID, pattern.BranchID, pattern.ClientID,
		pattern.Status, pattern.Version, pattern.CreatedAt, pattern.UpdatedAt, doc)
	return err
}

func (s *Store) GetPattern(ctx context.Context, id uuid.UUID) (*v1.ServicePattern, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM service_patterns WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&doc)
	if isNoRows(err) {
		return nil, errors.NotFound("service pattern", id.String())
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[v1.ServicePattern](doc)
}

func (s *Store) UpdatePattern(ctx context.Context, pattern *v1.ServicePattern) error {
	previous := pattern.Version
	pattern.Version++
	doc, err := marshalDoc(pattern)
	if err != nil {
		pattern.Version = previous
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE service_patterns
		SET status = $2, version = $3, updated_at = $4, doc = $5
		WHERE id = $1 AND version = $6 AND deleted_at IS NULL`,
		pattern.ID, pattern.Status, pattern.Version, pattern.UpdatedAt, doc, previous)
	if err != nil {
		pattern.Version = previous
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		pattern.Version = previous
		return err
	}
	if affected == 0 {
		pattern.Version = previous
		return errors.Conflict("VERSION_CONFLICT", "service pattern %s was modified concurrently", pattern.ID)
	}
	return nil
}

func (s *Store) HolidayDates(ctx context.Context, organizationID, branchID uuid.UUID, from, to timeutil.Date) ([]timeutil.Date, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT holiday_date FROM holidays
		WHERE organization_id = $1 AND branch_id = $2 AND holiday_date BETWEEN $3 AND $4
		ORDER BY holiday_date`,
		organizationID, branchID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []timeutil.Date
	for rows.Next() {
		var raw time.Time
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, timeutil.DateOf(raw))
	}
	return out, rows.Err()
}
