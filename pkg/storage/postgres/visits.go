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
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/storage"
	"github.com/neighborhood-lab/care-commons/pkg/utils/timeutil"
)

func (s *Store) CreateVisit(ctx context.Context, visit *v1.Visit) error {
	doc, err := marshalDoc(visit)
	if err != nil {
		return err
	}
	var caregiverID *uuid.UUID
	if id := visit.CaregiverID(); id != uuid.Nil {
		caregiverID = &id
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO visits (id, organization_id, branch_id, client_id, caregiver_id, pattern_id,
		                    visit_number, service_date, status, version, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		visit.ID, visit.OrganizationID, visit.BranchID, visit.ClientID, caregiverID, visit.PatternID,
		visit.VisitNumber, visit.ServiceDate.String(), visit.Status, visit.Version,
		visit.CreatedAt, visit.UpdatedAt, doc)
	return err
}

func (s *Store) GetVisit(ctx context.Context, id uuid.UUID) (*v1.Visit, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM visits WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&doc)
	if isNoRows(err) {
		return nil, errors.NotFound("visit", id.String())
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[v1.Visit](doc)
}

func (s *Store) UpdateVisit(ctx context.Context, visit *v1.Visit) error {
	previous := visit.Version
	visit.Version++
	doc, err := marshalDoc(visit)
	if err != nil {
		visit.Version = previous
		return err
	}
	var caregiverID *uuid.UUID
	if id := visit.CaregiverID(); id != uuid.Nil {
		caregiverID = &id
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE visits
		SET caregiver_id = $2, status = $3, version = $4, updated_at = $5, doc = $6
		WHERE id = $1 AND version = $7 AND deleted_at IS NULL`,
		visit.ID, caregiverID, visit.Status, visit.Version, visit.UpdatedAt, doc, previous)
	if err != nil {
		visit.Version = previous
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		visit.Version = previous
		return err
	}
	if affected == 0 {
		visit.Version = previous
		return errors.Conflict("VERSION_CONFLICT", "visit %s was modified concurrently", visit.ID)
	}
	return nil
}

func (s *Store) SearchVisits(ctx context.Context, search storage.VisitSearch) ([]*v1.Visit, int64, error) {
	where := []string{"organization_id = $1"}
	args := []any{search.OrganizationID}
	if !search.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if search.BranchID != nil {
		where = append(where, "branch_id = "+next(*search.BranchID))
	}
	if search.ClientID != nil {
		where = append(where, "client_id = "+next(*search.ClientID))
	}
	if search.CaregiverID != nil {
		where = append(where, "caregiver_id = "+next(*search.CaregiverID))
	}
	if search.DateFrom != nil {
		where = append(where, "service_date >= "+next(search.DateFrom.String()))
	}
	if search.DateTo != nil {
		where = append(where, "service_date <= "+next(search.DateTo.String()))
	}
	if len(search.Statuses) > 0 {
		statuses := lo.Map(search.Statuses, func(status v1.VisitStatus, _ int) string { return string(status) })
		where = append(where, "status = ANY("+next(statuses)+")")
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Sort column is whitelisted by storage.VisitSortField.Validate; never
	// caller-supplied text.
	sortColumn := string(search.Sort)
	if sortColumn == "" {
		sortColumn = string(storage.VisitSortServiceDate)
	}
	direction := "ASC"
	if search.Order == storage.SortDescending {
		direction = "DESC"
	}
	page := search.Page.Normalize()
	query := fmt.Sprintf("SELECT doc FROM visits WHERE %s ORDER BY %s %s LIMIT %s OFFSET %s",
		clause, sortColumn, direction, next(page.Limit), next(page.Offset))

	docs, err := s.queryDocs(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	visits, err := unmarshalDocs[v1.Visit](docs)
	return visits, total, err
}

func (s *Store) VisitsByClientAndDate(ctx context.Context, clientID uuid.UUID, date timeutil.Date, statuses []v1.VisitStatus) ([]*v1.Visit, error) {
	return s.visitsBy(ctx, "client_id", clientID, date, statuses)
}

func (s *Store) VisitsByCaregiverAndDate(ctx context.Context, caregiverID uuid.UUID, date timeutil.Date, statuses []v1.VisitStatus) ([]*v1.Visit, error) {
	return s.visitsBy(ctx, "caregiver_id", caregiverID, date, statuses)
}

func (s *Store) visitsBy(ctx context.Context, column string, id uuid.UUID, date timeutil.Date, statuses []v1.VisitStatus) ([]*v1.Visit, error) {
	query := fmt.Sprintf(`
		SELECT doc FROM visits
		WHERE %s = $1 AND service_date = $2 AND deleted_at IS NULL`, column)
	args := []any{id, date.String()}
	if len(statuses) > 0 {
		query += " AND status = ANY($3)"
		args = append(args, lo.Map(statuses, func(status v1.VisitStatus, _ int) string { return string(status) }))
	}
	docs, err := s.queryDocs(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return unmarshalDocs[v1.Visit](docs)
}

func (s *Store) UnassignedVisits(ctx context.Context, organizationID uuid.UUID, from, to timeutil.Date) ([]*v1.Visit, error) {
	docs, err := s.queryDocs(ctx, `
		SELECT doc FROM visits
		WHERE organization_id = $1 AND status = $2 AND service_date BETWEEN $3 AND $4 AND deleted_at IS NULL
		ORDER BY service_date`,
		organizationID, v1.VisitStatusUnassigned, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	return unmarshalDocs[v1.Visit](docs)
}

// NextVisitSequence allocates the next per-org per-year number atomically;
// the upsert takes a row lock so concurrent inserts serialize.
func (s *Store) NextVisitSequence(ctx context.Context, organizationID uuid.UUID, year int) (int64, error) {
	var sequence int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO visit_sequences (organization_id, year, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (organization_id, year)
		DO UPDATE SET last_value = visit_sequences.last_value + 1
		RETURNING last_value`,
		organizationID, year).Scan(&sequence)
	return sequence, err
}

func (s *Store) queryDocs(ctx context.Context, query string, args ...any) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
