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

	"github.com/google/uuid"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
)

func (s *Store) CreateGeofence(ctx context.Context, geofence *v1.Geofence) error {
	doc, err := marshalDoc(geofence)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO geofences (id, organization_id, address_id, status, verification_count,
		                       successful_count, failed_count, average_accuracy_m, version,
		                       created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		geofence.ID, geofence.OrganizationID, geofence.AddressID, geofence.Status,
		geofence.Stats.VerificationCount, geofence.Stats.SuccessfulCount,
		geofence.Stats.FailedCount, geofence.Stats.AverageAccuracyM,
		geofence.Version, geofence.CreatedAt, geofence.UpdatedAt, doc)
	return err
}

func (s *Store) GetGeofence(ctx context.Context, id uuid.UUID) (*v1.Geofence, error) {
	return s.geofenceBy(ctx, "id", id)
}

func (s *Store) GetGeofenceByAddress(ctx context.Context, addressID uuid.UUID) (*v1.Geofence, error) {
	return s.geofenceBy(ctx, "address_id", addressID)
}

func (s *Store) geofenceBy(ctx context.Context, column string, id uuid.UUID) (*v1.Geofence, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM geofences WHERE "+column+" = $1 AND deleted_at IS NULL", id).Scan(&doc)
	if isNoRows(err) {
		return nil, errors.NotFound("geofence", id.String())
	}
	if err != nil {
		return nil, err
	}
	geofence, err := unmarshalDoc[v1.Geofence](doc)
	if err != nil {
		return nil, err
	}
	// Counters live in their own columns so RecordCheck never races the
	// document; fold them back in on read.
	err = s.db.QueryRowContext(ctx, `
		SELECT verification_count, successful_count, failed_count, average_accuracy_m
		FROM geofences WHERE `+column+` = $1 AND deleted_at IS NULL`, id).Scan(
		&geofence.Stats.VerificationCount, &geofence.Stats.SuccessfulCount,
		&geofence.Stats.FailedCount, &geofence.Stats.AverageAccuracyM)
	if err != nil {
		return nil, err
	}
	return geofence, nil
}

// RecordCheck updates the lifetime counters and running average accuracy in
// one statement so concurrent checks never lose an increment.
func (s *Store) RecordCheck(ctx context.Context, id uuid.UUID, success bool, accuracyM float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE geofences
		SET average_accuracy_m = (average_accuracy_m * verification_count + $2) / (verification_count + 1),
		    verification_count = verification_count + 1,
		    successful_count   = successful_count + CASE WHEN $3 THEN 1 ELSE 0 END,
		    failed_count       = failed_count + CASE WHEN $3 THEN 0 ELSE 1 END
		WHERE id = $1 AND deleted_at IS NULL`,
		id, accuracyM, success)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFound("geofence", id.String())
	}
	return nil
}
