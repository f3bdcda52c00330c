package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"healthsignal/internal/llm"
	"healthsignal/pkg"
)

// runLocation collects the user's current whereabouts in two steps:
// city/state, then a venue or landmark within it. A location already
// adopted from passively supplied coordinates completes the stage
// silently.
func (o *Orchestrator) runLocation(ctx context.Context, rec *pkg.ConversationRecord, userText string) string {
	if rec.LocationComplete() {
		return ""
	}

	if rec.PendingCityState == "" {
		if userText == "" || IsNonAnswer(userText) {
			return promptCityState
		}
		rec.PendingCityState = userText
		return fmt.Sprintf(promptVenue, userText)
	}

	if userText == "" || IsNonAnswer(userText) {
		return fmt.Sprintf(promptVenue, rec.PendingCityState)
	}

	fullName := userText + ", " + rec.PendingCityState

	location := &pkg.CurrentLocation{Name: fullName}
	if point, err := o.geocoder.Forward(ctx, fullName); err != nil {
		o.log.Warn("location geocoding failed", zap.String("location", fullName), zap.Error(err))
	} else if point != nil {
		location.Latitude = &point.Latitude
		location.Longitude = &point.Longitude
	}

	// Category classification is best-effort; an unusable reply leaves it
	// blank rather than blocking the stage.
	raw, err := o.extractor.Extract(ctx, locationInstruction, nil, fullName)
	if err != nil {
		o.log.Warn("location classification failed", zap.String("session", rec.SessionID), zap.Error(err))
	} else if parsed, ok := llm.ParseJSON(raw); ok {
		if category, ok := llm.GetString(parsed, "location_category"); ok {
			location.Category = NormalizeLocationCategory(category)
		}
	}

	rec.Location = location
	rec.PendingCityState = ""
	return ""
}
