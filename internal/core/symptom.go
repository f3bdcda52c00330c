package core

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"healthsignal/internal/llm"
	"healthsignal/pkg"
)

// runSymptoms collects the symptom list and onset timing. Already
// collected values are never regressed: an extraction that produces
// nothing usable keeps the previous state and re-prompts.
func (o *Orchestrator) runSymptoms(ctx context.Context, rec *pkg.ConversationRecord, userText string) string {
	if userText == "" {
		return o.symptomPrompt(rec)
	}

	// When only the onset is missing, a plain day answer needs no
	// extraction call at all.
	if len(rec.Symptoms) > 0 && rec.DaysSinceOnset == nil {
		if days, ok := ParseDaysPhrase(userText); ok && days >= 0 {
			rec.DaysSinceOnset = &days
			return o.symptomPrompt(rec)
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"user_input":       userText,
		"current_symptoms": rec.Symptoms,
		"current_days":     rec.DaysSinceOnset,
	})

	raw, err := o.extractor.Extract(ctx, symptomInstruction, o.extractionHistory(rec), string(payload))
	if err != nil {
		o.log.Warn("symptom extraction failed", zap.String("session", rec.SessionID), zap.Error(err))
		return o.symptomPrompt(rec)
	}

	parsed, ok := llm.ParseJSON(raw)
	if !ok {
		return o.symptomPrompt(rec)
	}

	if symptoms, ok := llm.GetStringSlice(parsed, "symptoms"); ok {
		if valid := FilterSymptoms(symptoms); len(valid) > 0 {
			rec.Symptoms = valid
		}
	}
	if days, ok := llm.GetInt(parsed, "days_since_onset"); ok && days >= 0 {
		rec.DaysSinceOnset = &days
	}

	return o.symptomPrompt(rec)
}

// symptomPrompt asks for whichever half is still missing; empty once the
// stage is complete.
func (o *Orchestrator) symptomPrompt(rec *pkg.ConversationRecord) string {
	hasSymptoms := len(rec.Symptoms) > 0
	hasDays := IsValidDays(rec.DaysSinceOnset)
	switch {
	case hasSymptoms && hasDays:
		return ""
	case hasSymptoms:
		return promptOnsetDays
	case hasDays:
		return promptWhichSymptoms
	default:
		return promptDescribeSymptoms
	}
}
