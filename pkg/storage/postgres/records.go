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
)

func (s *Store) CreateEVVRecord(ctx context.Context, record *v1.EVVRecord) error {
	doc, err := marshalDoc(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evv_records (id, organization_id, visit_id, client_id, caregiver_id,
		                         status, clock_in_time, version, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID, record.OrganizationID, record.VisitID, record.ClientID, record.CaregiverID,
		record.Status, record.ClockInTime, record.Version, record.CreatedAt, record.UpdatedAt, doc)
	if err != nil && strings.Contains(err.Error(), "idx_evv_records_visit") {
		return errors.Conflict("DUPLICATE_EVV_RECORD", "visit %s already has an EVV record", record.VisitID)
	}
	return err
}

func (s *Store) GetEVVRecord(ctx context.Context, id uuid.UUID) (*v1.EVVRecord, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM evv_records WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&doc)
	if isNoRows(err) {
		return nil, errors.NotFound("EVV record", id.String())
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[v1.EVVRecord](doc)
}

func (s *Store) GetEVVRecordByVisit(ctx context.Context, visitID uuid.UUID) (*v1.EVVRecord, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM evv_records WHERE visit_id = $1 AND deleted_at IS NULL`, visitID).Scan(&doc)
	if isNoRows(err) {
		return nil, errors.NotFound("EVV record for visit", visitID.String())
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[v1.EVVRecord](doc)
}

func (s *Store) UpdateEVVRecord(ctx context.Context, record *v1.EVVRecord) error {
	previous := record.Version
	record.Version++
	doc, err := marshalDoc(record)
	if err != nil {
		record.Version = previous
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE evv_records
		SET status = $2, clock_in_time = $3, version = $4, updated_at = $5, doc = $6
		WHERE id = $1 AND version = $7 AND deleted_at IS NULL`,
		record.ID, record.Status, record.ClockInTime, record.Version, record.UpdatedAt, doc, previous)
	if err != nil {
		record.Version = previous
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		record.Version = previous
		return err
	}
	if affected == 0 {
		record.Version = previous
		return errors.Conflict("VERSION_CONFLICT", "EVV record %s was modified concurrently", record.ID)
	}
	return nil
}

func (s *Store) SearchEVVRecords(ctx context.Context, search storage.EVVRecordSearch) ([]*v1.EVVRecord, int64, error) {
	where := []string{"organization_id = $1", "deleted_at IS NULL"}
	args := []any{search.OrganizationID}
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if search.ClientID != nil {
		where = append(where, "client_id = "+next(*search.ClientID))
	}
	if search.CaregiverID != nil {
		where = append(where, "caregiver_id = "+next(*search.CaregiverID))
	}
	if len(search.Statuses) > 0 {
		statuses := lo.Map(search.Statuses, func(status v1.EVVRecordStatus, _ int) string { return string(status) })
		where = append(where, "status = ANY("+next(statuses)+")")
	}
	if search.From != nil {
		where = append(where, "clock_in_time >= "+next(*search.From))
	}
	if search.To != nil {
		where = append(where, "clock_in_time <= "+next(*search.To))
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evv_records WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortColumn := string(search.Sort)
	if sortColumn == "" {
		sortColumn = string(storage.EVVRecordSortClockIn)
	}
	direction := "ASC"
	if search.Order == storage.SortDescending {
		direction = "DESC"
	}
	page := search.Page.Normalize()
	query := fmt.Sprintf("SELECT doc FROM evv_records WHERE %s ORDER BY %s %s LIMIT %s OFFSET %s",
		clause, sortColumn, direction, next(page.Limit), next(page.Offset))

	docs, err := s.queryDocs(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	records, err := unmarshalDocs[v1.EVVRecord](docs)
	return records, total, err
}
