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
	"github.com/neighborhood-lab/care-commons/pkg/storage"
)

func (s *Store) CreateSubmission(ctx context.Context, submission *v1.AggregatorSubmission) error {
	doc, err := marshalDoc(submission)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aggregator_submissions (id, organization_id, evv_record_id, state_code,
		                                    aggregator_id, aggregator_type, status, next_retry_at,
		                                    version, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		submission.ID, submission.OrganizationID, submission.EVVRecordID, submission.StateCode,
		submission.AggregatorID, submission.AggregatorType, submission.Status, submission.NextRetryAt,
		submission.Version, submission.CreatedAt, submission.UpdatedAt, doc)
	return err
}

func (s *Store) GetSubmission(ctx context.Context, id uuid.UUID) (*v1.AggregatorSubmission, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM aggregator_submissions WHERE id = $1`, id).Scan(&doc)
	if isNoRows(err) {
		return nil, errors.NotFound("submission", id.String())
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc[v1.AggregatorSubmission](doc)
}

func (s *Store) UpdateSubmission(ctx context.Context, submission *v1.AggregatorSubmission) error {
	previous := submission.Version
	submission.Version++
	doc, err := marshalDoc(submission)
	if err != nil {
		submission.Version = previous
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE aggregator_submissions
		SET status = $2, next_retry_at = $3, version = $4, updated_at = $5, doc = $6
		WHERE id = $1 AND version = $7`,
		submission.ID, submission.Status, submission.NextRetryAt, submission.Version,
		submission.UpdatedAt, doc, previous)
	if err != nil {
		submission.Version = previous
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		submission.Version = previous
		return err
	}
	if affected == 0 {
		submission.Version = previous
		return errors.Conflict("VERSION_CONFLICT", "submission %s was modified concurrently", submission.ID)
	}
	return nil
}

func (s *Store) SubmissionsByRecord(ctx context.Context, evvRecordID uuid.UUID) ([]*v1.AggregatorSubmission, error) {
	docs, err := s.queryDocs(ctx, `
		SELECT doc FROM aggregator_submissions WHERE evv_record_id = $1 ORDER BY created_at`,
		evvRecordID)
	if err != nil {
		return nil, err
	}
	return unmarshalDocs[v1.AggregatorSubmission](docs)
}

// ClaimDueRetries flips due RETRY rows to IN_FLIGHT and returns them. FOR
// UPDATE SKIP LOCKED guarantees concurrent sweeps claim disjoint sets.
func (s *Store) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*v1.AggregatorSubmission, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, version FROM aggregator_submissions
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		v1.SubmissionStatusRetry, now, limit)
	if err != nil {
		return nil, err
	}
	type claim struct {
		id      uuid.UUID
		version int64
	}
	var claims []claim
	for rows.Next() {
		var c claim
		if err := rows.Scan(&c.id, &c.version); err != nil {
			rows.Close()
			return nil, err
		}
		claims = append(claims, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*v1.AggregatorSubmission
	for _, c := range claims {
		var doc []byte
		err := tx.QueryRowContext(ctx, `
			UPDATE aggregator_submissions
			SET status = $2, version = version + 1, updated_at = $3,
			    doc = jsonb_set(jsonb_set(doc, '{status}', to_jsonb($2::text)), '{version}', to_jsonb(version + 1))
			WHERE id = $1
			RETURNING doc`,
			c.id, v1.SubmissionStatusInFlight, now).Scan(&doc)
		if err != nil {
			return nil, err
		}
		submission, err := unmarshalDoc[v1.AggregatorSubmission](doc)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, submission)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) StatusCounts(ctx context.Context, organizationID uuid.UUID) ([]storage.SubmissionStatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state_code, aggregator_type, status, COUNT(*)
		FROM aggregator_submissions
		WHERE organization_id = $1
		GROUP BY state_code, aggregator_type, status
		ORDER BY state_code, aggregator_type, status`,
		organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.SubmissionStatusCount
	for rows.Next() {
		var row storage.SubmissionStatusCount
		if err := rows.Scan(&row.StateCode, &row.AggregatorType, &row.Status, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) CountRetryingBefore(ctx context.Context, organizationID uuid.UUID, before time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM aggregator_submissions
		WHERE organization_id = $1 AND status = $2 AND next_retry_at < $3`,
		organizationID, v1.SubmissionStatusRetry, before).Scan(&count)
	return count, err
}
