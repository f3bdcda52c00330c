package core

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"healthsignal/internal/llm"
	"healthsignal/pkg"
)

// runExposure collects the suspected exposure site and timing. Whichever
// half arrives first is parked in the record's partial fields until the
// other shows up; only then is the exposure written, with coordinates
// geocoded best-effort.
func (o *Orchestrator) runExposure(ctx context.Context, rec *pkg.ConversationRecord, userText string) string {
	if userText == "" {
		category := ""
		if rec.Diagnosis != nil {
			category = string(rec.Diagnosis.Category)
		}
		return exposureOpener(category)
	}

	if IsNonAnswer(userText) {
		return promptExposureInsist
	}

	// A bare day answer while the location half is already known needs no
	// extraction call.
	if rec.PartialLocation != "" && rec.PartialDays == nil {
		if days, ok := ParseDaysPhrase(userText); ok && days >= 0 {
			rec.PartialDays = &days
			return o.settleExposure(ctx, rec)
		}
	}

	payload := map[string]any{"user_input": userText}
	if rec.Diagnosis != nil {
		payload["diagnosis"] = rec.Diagnosis.Name
		payload["illness_category"] = rec.Diagnosis.Category
	}
	if rec.PartialLocation != "" {
		payload["partial_location"] = rec.PartialLocation
	}
	if rec.PartialDays != nil {
		payload["partial_days"] = *rec.PartialDays
	}
	raw, err := o.extractor.Extract(ctx, exposureInstruction, o.extractionHistory(rec), mustJSON(payload))
	if err != nil {
		o.log.Warn("exposure extraction failed", zap.String("session", rec.SessionID), zap.Error(err))
		return o.exposurePrompt(rec)
	}

	parsed, ok := llm.ParseJSON(raw)
	if !ok {
		return o.exposurePrompt(rec)
	}

	if name, ok := llm.GetString(parsed, "exposure_location_name"); ok && !IsNonAnswer(name) {
		rec.PartialLocation = name
	}
	if days, ok := llm.GetInt(parsed, "days_since_exposure"); ok && days >= 0 {
		rec.PartialDays = &days
	}

	return o.settleExposure(ctx, rec)
}

// settleExposure commits the exposure once both halves are valid,
// geocoding the site. Coordinates are written together or not at all.
func (o *Orchestrator) settleExposure(ctx context.Context, rec *pkg.ConversationRecord) string {
	if rec.PartialLocation == "" || !IsValidDays(rec.PartialDays) {
		return o.exposurePrompt(rec)
	}

	exposure := &pkg.Exposure{
		LocationName: rec.PartialLocation,
		DaysAgo:      *rec.PartialDays,
	}
	if point, err := o.geocoder.Forward(ctx, rec.PartialLocation); err != nil {
		o.log.Warn("exposure geocoding failed", zap.String("location", rec.PartialLocation), zap.Error(err))
	} else if point != nil {
		exposure.Latitude = &point.Latitude
		exposure.Longitude = &point.Longitude
	}

	rec.Exposure = exposure
	rec.PartialLocation = ""
	rec.PartialDays = nil
	return ""
}

func (o *Orchestrator) exposurePrompt(rec *pkg.ConversationRecord) string {
	switch {
	case rec.PartialLocation != "" && rec.PartialDays == nil:
		return fmt.Sprintf(promptExposureDays, rec.PartialLocation)
	case rec.PartialLocation == "" && rec.PartialDays != nil:
		return "Where do you think you were exposed? Please specify the venue or city. (This is required.)"
	default:
		return promptExposureBoth
	}
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
