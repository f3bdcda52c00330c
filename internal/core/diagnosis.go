package core

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"healthsignal/internal/llm"
	"healthsignal/pkg"
)

// maxClarifications bounds the diagnosis clarification sub-loop. On the
// attempt after the cap the extractor runs in forced mode and a diagnosis
// is guaranteed, falling back to keyword classification if it still
// refuses to produce one.
const maxClarifications = 3

// runDiagnosis turns collected symptoms into a diagnosis, asking at most
// maxClarifications clarifying questions along the way.
func (o *Orchestrator) runDiagnosis(ctx context.Context, rec *pkg.ConversationRecord, userText string) string {
	// An answer to a pending clarifying question joins the accumulated
	// context before the next extraction.
	if rec.AwaitingClarification && userText != "" {
		rec.ClarifierHistory = append(rec.ClarifierHistory, pkg.ClarifierExchange{
			Question: rec.LastClarifierQuestion,
			Answer:   userText,
		})
		rec.AwaitingClarification = false
	}

	forced := rec.ClarificationAttempts >= maxClarifications

	payload, _ := json.Marshal(map[string]any{
		"symptoms":              rec.Symptoms,
		"days_since_onset":      rec.DaysSinceOnset,
		"clarifier_history":     rec.ClarifierHistory,
		"force_final_diagnosis": forced,
	})

	raw, err := o.extractor.Extract(ctx, diagnosisInstruction, o.extractionHistory(rec), string(payload))
	if err != nil {
		o.log.Warn("diagnosis extraction failed", zap.String("session", rec.SessionID), zap.Error(err))
		if forced {
			return o.finalizeDiagnosis(rec, FallbackDiagnosis(rec.Symptoms))
		}
		// Transport failures don't burn a clarification attempt; just ask
		// the pending question again.
		if rec.LastClarifierQuestion != "" {
			rec.AwaitingClarification = true
			return rec.LastClarifierQuestion
		}
		return promptTryAgain
	}

	if parsed, ok := llm.ParseJSON(raw); ok {
		if diag := diagnosisFromReply(parsed); diag != nil {
			return o.finalizeDiagnosis(rec, diag)
		}
	}

	// Natural-language reply: a clarifying question, unless the budget is
	// spent, in which case the deterministic fallback guarantees progress.
	if forced {
		return o.finalizeDiagnosis(rec, FallbackDiagnosis(rec.Symptoms))
	}

	question := llm.StripFences(raw)
	if question == "" {
		question = "Could you tell me more about your symptoms?"
	}
	rec.AwaitingClarification = true
	rec.ClarificationAttempts++
	rec.LastClarifierQuestion = question
	return question
}

// diagnosisFromReply validates a structured extractor reply; nil when the
// required keys are missing.
func diagnosisFromReply(parsed map[string]any) *pkg.Diagnosis {
	name, ok := llm.GetString(parsed, "final_diagnosis")
	if !ok {
		return nil
	}
	category, ok := llm.GetString(parsed, "illness_category")
	if !ok {
		return nil
	}
	confidence, _ := llm.GetFloat(parsed, "confidence")
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	reasoning, _ := llm.GetString(parsed, "reasoning")
	return &pkg.Diagnosis{
		Name:       name,
		Category:   NormalizeCategory(category),
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

func (o *Orchestrator) finalizeDiagnosis(rec *pkg.ConversationRecord, diag *pkg.Diagnosis) string {
	rec.Diagnosis = diag
	rec.AwaitingClarification = false
	rec.ClarificationAttempts = 0
	rec.LastClarifierQuestion = ""

	o.log.Info("diagnosis finalized",
		zap.String("session", rec.SessionID),
		zap.String("diagnosis", diag.Name),
		zap.Float64("confidence", diag.Confidence))

	if diag.Confidence < 0.5 {
		return fmt.Sprintf("Low confidence diagnosis: %s (%.0f%%)", diag.Name, diag.Confidence*100)
	}
	return fmt.Sprintf("Preliminary diagnosis: %s (%.0f%% confidence)", diag.Name, diag.Confidence*100)
}
