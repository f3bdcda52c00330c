package core

import (
	"context"

	"go.uber.org/zap"

	"healthsignal/pkg"
)

// runClusterValidation cross-checks the submitted report against active
// outbreak clusters. It always writes a validation record (NO_MATCH when
// the exposure was never geocoded or the query store is unavailable) so
// the conversation can proceed to advice regardless.
func (o *Orchestrator) runClusterValidation(ctx context.Context, rec *pkg.ConversationRecord) string {
	report := rec.Report

	if report.ExposureLatitude == nil || report.ExposureLongitude == nil {
		o.log.Info("skipping cluster validation, exposure coordinates unknown",
			zap.String("session", rec.SessionID))
		rec.ClusterValidation = &pkg.ClusterValidation{
			Verdict:            pkg.VerdictNoMatch,
			RefinedDiagnosis:   report.Diagnosis,
			RefinedConfidence:  report.Confidence,
			OriginalDiagnosis:  report.Diagnosis,
			OriginalConfidence: report.Confidence,
			Reasoning:          "Exposure location could not be geocoded; cluster validation skipped.",
		}
		return ""
	}

	validation := o.matcher.Validate(ctx, MatchInput{
		Disease:           report.Diagnosis,
		Confidence:        report.Confidence,
		Category:          report.Category,
		Latitude:          *report.ExposureLatitude,
		Longitude:         *report.ExposureLongitude,
		DaysSinceExposure: report.DaysSinceExposure,
	})
	rec.ClusterValidation = validation

	// Strong verdicts rewrite the working diagnosis while keeping the
	// original for the record.
	switch validation.Verdict {
	case pkg.VerdictConfirmed, pkg.VerdictAlternative:
		category := rec.Diagnosis.Category
		if validation.Verdict == pkg.VerdictAlternative && validation.Cluster != nil {
			category = validation.Cluster.PredominantCategory
		}
		rec.Diagnosis = &pkg.Diagnosis{
			Name:               validation.RefinedDiagnosis,
			Category:           category,
			Confidence:         validation.RefinedConfidence,
			Reasoning:          validation.Reasoning,
			ClusterValidated:   true,
			OriginalName:       validation.OriginalDiagnosis,
			OriginalConfidence: validation.OriginalConfidence,
		}
	}

	return AlertMessage(validation)
}
