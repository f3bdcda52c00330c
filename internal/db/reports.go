package db

import (
	"context"
	"database/sql"
	"fmt"

	"healthsignal/pkg"
)

// ReportStore persists the immutable report snapshots written at
// submission time.
type ReportStore struct {
	DB *sql.DB
}

// NewReportStore wraps an existing sql.DB.
func NewReportStore(db *sql.DB) *ReportStore { return &ReportStore{DB: db} }

// Insert writes one report row. Reports are never updated afterwards.
func (s *ReportStore) Insert(ctx context.Context, r *pkg.Report) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO reports (
            report_id, session_id, user_id, report_timestamp,
            symptom_text, days_since_symptom_onset,
            final_diagnosis, illness_category, confidence, reasoning,
            exposure_location_name, exposure_latitude, exposure_longitude, days_since_exposure,
            current_location_name, current_latitude, current_longitude, location_category,
            exposure_geopoint, current_geopoint,
            contagious_flag, alertable_flag
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
            $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
        )`,
		r.ID, r.SessionID, r.UserID, r.Timestamp,
		r.SymptomText, r.DaysOnset,
		r.Diagnosis, string(r.Category), r.Confidence, r.Reasoning,
		r.ExposureLocationName, r.ExposureLatitude, r.ExposureLongitude, r.DaysSinceExposure,
		r.CurrentLocationName, r.CurrentLatitude, r.CurrentLongitude, string(r.LocationCategory),
		nullIfEmpty(r.ExposureGeoPoint), nullIfEmpty(r.CurrentGeoPoint),
		r.ContagiousFlag, r.AlertableFlag,
	)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
