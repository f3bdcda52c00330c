package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthsignal/pkg"
)

// runSubmission freezes the collected data into an immutable report and
// persists it. The report id is derived from the session id and turn
// counter, so retries of a failed submission produce the same id and no
// process-global counter is needed.
func (o *Orchestrator) runSubmission(ctx context.Context, rec *pkg.ConversationRecord) error {
	userID := rec.UserID
	if userID == "" {
		userID = "anonymous"
	}

	report := &pkg.Report{
		ID:          reportID(rec.SessionID, rec.TurnCount),
		SessionID:   rec.SessionID,
		UserID:      userID,
		Timestamp:   time.Now().UTC(),
		SymptomText: strings.Join(rec.Symptoms, ", "),
		DaysOnset:   *rec.DaysSinceOnset,

		Diagnosis:  rec.Diagnosis.Name,
		Category:   rec.Diagnosis.Category,
		Confidence: rec.Diagnosis.Confidence,
		Reasoning:  rec.Diagnosis.Reasoning,

		ExposureLocationName: rec.Exposure.LocationName,
		ExposureLatitude:     rec.Exposure.Latitude,
		ExposureLongitude:    rec.Exposure.Longitude,
		DaysSinceExposure:    rec.Exposure.DaysAgo,

		CurrentLocationName: rec.Location.Name,
		CurrentLatitude:     rec.Location.Latitude,
		CurrentLongitude:    rec.Location.Longitude,
		LocationCategory:    rec.Location.Category,

		ExposureGeoPoint: wktPoint(rec.Exposure.Latitude, rec.Exposure.Longitude),
		CurrentGeoPoint:  wktPoint(rec.Location.Latitude, rec.Location.Longitude),

		ContagiousFlag: rec.Diagnosis.Category == pkg.CategoryAirborne,
		AlertableFlag:  rec.Diagnosis.Category.Transmissible(),
	}

	if err := o.reports.Insert(ctx, report); err != nil {
		// The record stays unchanged so the next turn retries submission.
		return err
	}

	rec.Report = report
	o.log.Info("report submitted",
		zap.String("session", rec.SessionID),
		zap.String("report", report.ID),
		zap.Bool("alertable", report.AlertableFlag))
	return nil
}

func reportID(sessionID string, turn int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", sessionID, turn))).String()
}

// wktPoint renders a "POINT(lon lat)" literal, empty when either
// coordinate is unknown.
func wktPoint(lat, lon *float64) string {
	if lat == nil || lon == nil {
		return ""
	}
	return fmt.Sprintf("POINT(%f %f)", *lon, *lat)
}
