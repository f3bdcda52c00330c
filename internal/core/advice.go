package core

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"healthsignal/internal/llm"
	"healthsignal/pkg"
)

// fallbackAdvice is served when the extractor cannot produce tailored
// guidance. The conversation must still reach its terminal state.
var fallbackAdvice = &pkg.CareAdvice{
	SelfCareTips: []string{
		"Rest and stay hydrated.",
		"Monitor your symptoms and keep a note of any changes.",
		"Wash your hands frequently and avoid preparing food for others.",
	},
	WhenToSeekHelp: "See a healthcare provider if your symptoms worsen, you develop a high fever, or you don't improve within a few days.",
}

// runAdvice produces the closing care guidance from the finalized report.
// Failures degrade to generic advice; this stage never blocks completion.
func (o *Orchestrator) runAdvice(ctx context.Context, rec *pkg.ConversationRecord) string {
	advice := fallbackAdvice

	raw, err := o.extractor.Extract(ctx, careInstruction, nil, mustJSON(rec.Report))
	if err != nil {
		o.log.Warn("care advice extraction failed", zap.String("session", rec.SessionID), zap.Error(err))
	} else if parsed, ok := llm.ParseJSON(raw); ok {
		tips, _ := llm.GetStringSlice(parsed, "self_care_tips")
		seekHelp, _ := llm.GetString(parsed, "when_to_seek_help")
		if len(tips) > 0 {
			advice = &pkg.CareAdvice{SelfCareTips: tips, WhenToSeekHelp: seekHelp}
			if advice.WhenToSeekHelp == "" {
				advice.WhenToSeekHelp = fallbackAdvice.WhenToSeekHelp
			}
		}
	}

	rec.CareAdvice = advice
	return adviceMessage(rec.Diagnosis, advice)
}

func adviceMessage(diag *pkg.Diagnosis, advice *pkg.CareAdvice) string {
	var b strings.Builder
	b.WriteString("Care advice for ")
	b.WriteString(diag.Name)
	b.WriteString(":")
	for _, tip := range advice.SelfCareTips {
		b.WriteString("\n- ")
		b.WriteString(tip)
	}
	b.WriteString("\n\nWhen to seek help: ")
	b.WriteString(advice.WhenToSeekHelp)
	b.WriteString("\n\nYour report has been recorded. Thank you for helping track public health. Feel better soon!")
	return b.String()
}
