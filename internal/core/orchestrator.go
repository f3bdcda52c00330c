package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthsignal/internal/geo"
	"healthsignal/internal/llm"
	"healthsignal/pkg"
)

// maxHistoryMessages caps the transcript carried in the record so session
// documents stay small.
const maxHistoryMessages = 50

// SessionStore persists conversation records between turns. Implemented
// by db.SessionStore.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*pkg.ConversationRecord, error)
	Save(ctx context.Context, sessionID string, rec *pkg.ConversationRecord) error
}

// ReportStore persists submitted reports. Implemented by db.ReportStore.
type ReportStore interface {
	Insert(ctx context.Context, r *pkg.Report) error
}

// Orchestrator drives one conversation turn: load state, resolve the
// resume stage, run handlers until a wait or terminal state, save state.
// It holds no cross-session mutable state, so turns for different
// sessions may run concurrently.
type Orchestrator struct {
	sessions  SessionStore
	reports   ReportStore
	extractor llm.Extractor
	geocoder  geo.Geocoder
	matcher   *Matcher
	log       *zap.Logger
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(sessions SessionStore, reports ReportStore, extractor llm.Extractor, geocoder geo.Geocoder, matcher *Matcher, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		reports:   reports,
		extractor: extractor,
		geocoder:  geocoder,
		matcher:   matcher,
		log:       log,
	}
}

// ProcessTurn handles one user turn for one session. The session store's
// load-mutate-save cycle is the unit of consistency; a persistence failure
// is the only error surfaced to the caller.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req pkg.TurnRequest) (*pkg.TurnResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	rec, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	before := snapshot(rec)
	rec.TurnCount++
	if req.UserID != "" {
		rec.UserID = req.UserID
	}
	if req.UserInput != "" {
		o.appendHistory(rec, "user", req.UserInput)
	}

	// Passively supplied coordinates resolve the current location without
	// asking, as long as the stage hasn't already produced one.
	if req.Latitude != nil && req.Longitude != nil && !rec.LocationComplete() {
		o.adoptCoordinates(ctx, rec, *req.Latitude, *req.Longitude)
	}

	prompt := o.runStages(ctx, rec, strings.TrimSpace(req.UserInput))
	if prompt != "" {
		o.appendHistory(rec, "assistant", prompt)
	}

	if err := o.sessions.Save(ctx, sessionID, rec); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return buildResponse(sessionID, prompt, rec, before), nil
}

// runStages executes handlers from the resolved stage forward, advancing
// whenever a stage completes in the same turn and stopping at the first
// stage that needs more user input. Prompts from chained stages are
// concatenated so the user never has to answer "continue?".
func (o *Orchestrator) runStages(ctx context.Context, rec *pkg.ConversationRecord, userText string) string {
	stage := ResolveStage(rec)
	o.log.Debug("turn start", zap.String("session", rec.SessionID), zap.String("stage", stage.String()))

	if stage == StageDone {
		return promptSessionDone
	}

	var prompts []string
	emit := func(p string) {
		if p != "" {
			prompts = append(prompts, p)
		}
	}

	for stage != StageDone {
		switch stage {
		case StageSymptoms:
			emit(o.runSymptoms(ctx, rec, userText))
			if !rec.SymptomsComplete() {
				return joinPrompts(prompts)
			}

		case StageDiagnosis:
			emit(o.runDiagnosis(ctx, rec, userText))
			if !rec.DiagnosisFinal() {
				return joinPrompts(prompts)
			}

		case StageExposure:
			emit(o.runExposure(ctx, rec, userText))
			if !rec.ExposureComplete() {
				return joinPrompts(prompts)
			}

		case StageLocation:
			emit(o.runLocation(ctx, rec, userText))
			if !rec.LocationComplete() {
				return joinPrompts(prompts)
			}

		case StageSubmission:
			if err := o.runSubmission(ctx, rec); err != nil {
				o.log.Error("report submission failed", zap.String("session", rec.SessionID), zap.Error(err))
				emit(promptTryAgain)
				return joinPrompts(prompts)
			}

		case StageClusterValidation:
			emit(o.runClusterValidation(ctx, rec))

		case StageAdvice:
			emit(o.runAdvice(ctx, rec))
		}

		// Whatever the user typed was consumed by the first handler; the
		// chained stages start fresh.
		userText = ""
		stage = ResolveStage(rec)
	}
	return joinPrompts(prompts)
}

// adoptCoordinates resolves passively supplied GPS coordinates to a
// current location, skipping the location questions entirely. Reverse
// geocoding failure falls back to a coordinate label; the turn proceeds.
func (o *Orchestrator) adoptCoordinates(ctx context.Context, rec *pkg.ConversationRecord, lat, lon float64) {
	name, err := o.geocoder.Reverse(ctx, lat, lon)
	if err != nil || name == "" {
		if err != nil {
			o.log.Warn("reverse geocode failed", zap.Error(err))
		}
		name = fmt.Sprintf("GPS Location (%.4f, %.4f)", lat, lon)
	}
	rec.Location = &pkg.CurrentLocation{
		Name:      name,
		Latitude:  &lat,
		Longitude: &lon,
		Category:  pkg.LocationUrban,
	}
}

func (o *Orchestrator) appendHistory(rec *pkg.ConversationRecord, role, content string) {
	rec.History = append(rec.History, pkg.ChatMessage{Role: role, Content: content})
	if len(rec.History) > maxHistoryMessages {
		rec.History = rec.History[len(rec.History)-maxHistoryMessages:]
	}
}

func (o *Orchestrator) extractionHistory(rec *pkg.ConversationRecord) []llm.Message {
	msgs := make([]llm.Message, 0, len(rec.History))
	for _, m := range rec.History {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

func joinPrompts(prompts []string) string {
	return strings.Join(prompts, "\n\n")
}

// turnSnapshot records which artifacts existed before the turn so the
// response only carries newly produced ones.
type turnSnapshot struct {
	diagnosisName    string
	clusterValidated bool
	hadReport        bool
	hadValidation    bool
	hadCareAdvice    bool
}

func snapshot(rec *pkg.ConversationRecord) turnSnapshot {
	s := turnSnapshot{
		hadReport:     rec.Report != nil,
		hadValidation: rec.ClusterValidation != nil,
		hadCareAdvice: rec.CareAdvice != nil,
	}
	if rec.Diagnosis != nil {
		s.diagnosisName = rec.Diagnosis.Name
		s.clusterValidated = rec.Diagnosis.ClusterValidated
	}
	return s
}

func buildResponse(sessionID, prompt string, rec *pkg.ConversationRecord, before turnSnapshot) *pkg.TurnResponse {
	resp := &pkg.TurnResponse{SessionID: sessionID, Prompt: prompt}
	if rec.Diagnosis != nil {
		newName := rec.Diagnosis.Name != before.diagnosisName
		newlyValidated := rec.Diagnosis.ClusterValidated && !before.clusterValidated
		if newName || newlyValidated {
			resp.Diagnosis = rec.Diagnosis
		}
	}
	if rec.Report != nil && !before.hadReport {
		resp.Report = rec.Report
	}
	if rec.ClusterValidation != nil && !before.hadValidation {
		resp.ClusterValidation = rec.ClusterValidation
	}
	if rec.CareAdvice != nil && !before.hadCareAdvice {
		resp.CareAdvice = rec.CareAdvice
	}
	return resp
}
