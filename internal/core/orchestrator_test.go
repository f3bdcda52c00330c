package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"healthsignal/internal/geo"
	"healthsignal/internal/llm"
	"healthsignal/pkg"
)

// scriptedExtractor pops one canned reply per Extract call.
type scriptedExtractor struct {
	replies []string
	err     error
	calls   int
}

func (s *scriptedExtractor) Extract(ctx context.Context, instruction string, history []llm.Message, userText string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("scripted extractor exhausted")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

type memSessions struct {
	records map[string]*pkg.ConversationRecord
}

func newMemSessions() *memSessions {
	return &memSessions{records: make(map[string]*pkg.ConversationRecord)}
}

func (m *memSessions) Load(ctx context.Context, sessionID string) (*pkg.ConversationRecord, error) {
	if rec, ok := m.records[sessionID]; ok {
		return rec, nil
	}
	return pkg.NewConversationRecord(sessionID), nil
}

func (m *memSessions) Save(ctx context.Context, sessionID string, rec *pkg.ConversationRecord) error {
	m.records[sessionID] = rec
	return nil
}

type memReports struct {
	inserted []*pkg.Report
	err      error
}

func (m *memReports) Insert(ctx context.Context, r *pkg.Report) error {
	if m.err != nil {
		return m.err
	}
	m.inserted = append(m.inserted, r)
	return nil
}

type fixedGeocoder struct {
	point *geo.Point
	name  string
	err   error
}

func (g *fixedGeocoder) Forward(ctx context.Context, name string) (*geo.Point, error) {
	return g.point, g.err
}

func (g *fixedGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	return g.name, g.err
}

func newTestOrchestrator(ext llm.Extractor, reports *memReports, store *fakeQueryStore) (*Orchestrator, *memSessions) {
	sessions := newMemSessions()
	geocoder := &fixedGeocoder{
		point: &geo.Point{Latitude: 30.2672, Longitude: -97.7431},
		name:  "Austin, Texas",
	}
	orch := NewOrchestrator(sessions, reports, ext, geocoder, newTestMatcher(store), zap.NewNop())
	return orch, sessions
}

func TestFullConversationFlow(t *testing.T) {
	ext := &scriptedExtractor{replies: []string{
		`{"symptoms": ["stomach cramps", "nausea"], "days_since_onset": 2}`,
		`{"final_diagnosis": "Gastroenteritis", "illness_category": "foodborne", "confidence": 0.62, "reasoning": "GI presentation"}`,
		`{"exposure_location_name": "Joe's Diner, Austin", "days_since_exposure": 3}`,
		`{"current_location_name": "Austin, TX", "location_category": "urban"}`,
		`{"self_care_tips": ["Rest", "Hydrate"], "when_to_seek_help": "If symptoms persist beyond 3 days."}`,
	}}
	reports := &memReports{}
	store := &fakeQueryStore{
		regionID: "region-1",
		clusters: []pkg.Cluster{activeCluster(10, 0.90, "Gastroenteritis", pkg.CategoryFoodborne)},
	}
	orch, sessions := newTestOrchestrator(ext, reports, store)
	ctx := context.Background()

	// Turn 1: symptoms land, diagnosis chains in the same turn, then the
	// exposure question goes out.
	resp, err := orch.ProcessTurn(ctx, pkg.TurnRequest{UserInput: "I have stomach cramps and nausea, started 2 days ago"})
	require.NoError(t, err)
	sessionID := resp.SessionID
	require.NotEmpty(t, sessionID)
	require.NotNil(t, resp.Diagnosis)
	assert.Equal(t, "Gastroenteritis", resp.Diagnosis.Name)
	assert.Contains(t, resp.Prompt, "Preliminary diagnosis: Gastroenteritis")
	assert.Contains(t, resp.Prompt, "what you ate")
	assert.Nil(t, resp.Report)

	// Turn 2: exposure completes, current-location question goes out.
	resp, err = orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: sessionID, UserInput: "Joe's Diner in Austin, about 3 days ago"})
	require.NoError(t, err)
	assert.Contains(t, resp.Prompt, "city and state")

	rec := sessions.records[sessionID]
	require.True(t, rec.ExposureComplete())
	assert.Equal(t, "Joe's Diner, Austin", rec.Exposure.LocationName)
	require.NotNil(t, rec.Exposure.Latitude)

	// Turn 3: city/state parked, venue question goes out.
	resp, err = orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: sessionID, UserInput: "Austin, Texas"})
	require.NoError(t, err)
	assert.Contains(t, resp.Prompt, "Austin, Texas")

	// Turn 4: location completes; submission, cluster validation and advice
	// all chain through to the terminal state.
	resp, err = orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: sessionID, UserInput: "The Domain shopping center"})
	require.NoError(t, err)
	require.NotNil(t, resp.Report)
	require.NotNil(t, resp.ClusterValidation)
	require.NotNil(t, resp.CareAdvice)
	assert.Equal(t, pkg.VerdictConfirmed, resp.ClusterValidation.Verdict)
	assert.Contains(t, resp.Prompt, "OUTBREAK CONFIRMATION")
	assert.Contains(t, resp.Prompt, "When to seek help")
	require.Len(t, reports.inserted, 1)
	assert.True(t, reports.inserted[0].AlertableFlag)
	assert.False(t, reports.inserted[0].ContagiousFlag)

	rec = sessions.records[sessionID]
	assert.Equal(t, StageDone, ResolveStage(rec))
	assert.True(t, rec.Diagnosis.ClusterValidated)
	assert.InDelta(t, 0.92, rec.Diagnosis.Confidence, 1e-9)

	// A turn after completion gets the terminal message.
	resp, err = orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: sessionID, UserInput: "hello?"})
	require.NoError(t, err)
	assert.Equal(t, promptSessionDone, resp.Prompt)
}

func TestClarificationLoopIsBounded(t *testing.T) {
	ext := &scriptedExtractor{replies: []string{
		"Do you also have a fever?",
		"Is the pain constant or intermittent?",
		"Have you eaten anything unusual recently?",
		"Just one more question...",
	}}
	orch, sessions := newTestOrchestrator(ext, &memReports{}, &fakeQueryStore{})
	ctx := context.Background()

	seed := recordThrough(StageDiagnosis)
	seed.Symptoms = []string{"stomach cramps", "nausea"}
	seed.DaysSinceOnset = intPtr(2)
	sessions.records["s-1"] = seed

	for i := 1; i <= 3; i++ {
		resp, err := orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: "s-1", UserInput: "not sure"})
		require.NoError(t, err)
		assert.Contains(t, resp.Prompt, "?")
		assert.Equal(t, i, sessions.records["s-1"].ClarificationAttempts)
	}

	// Fourth extraction still refuses to diagnose: the deterministic
	// fallback takes over and the conversation moves on.
	resp, err := orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: "s-1", UserInput: "no"})
	require.NoError(t, err)

	rec := sessions.records["s-1"]
	require.NotNil(t, rec.Diagnosis)
	assert.Equal(t, pkg.CategoryFoodborne, rec.Diagnosis.Category)
	assert.LessOrEqual(t, rec.Diagnosis.Confidence, 0.65)
	assert.Equal(t, 0, rec.ClarificationAttempts)
	require.NotNil(t, resp.Diagnosis)
	assert.Len(t, rec.ClarifierHistory, 3)
}

func TestExtractionErrorDoesNotBurnAttempt(t *testing.T) {
	ext := &scriptedExtractor{err: errors.New("rate limited")}
	orch, sessions := newTestOrchestrator(ext, &memReports{}, &fakeQueryStore{})

	rec := recordThrough(StageDiagnosis)
	rec.AwaitingClarification = true
	rec.ClarificationAttempts = 2
	rec.LastClarifierQuestion = "Do you also have a fever?"
	sessions.records["s-1"] = rec

	resp, err := orch.ProcessTurn(context.Background(), pkg.TurnRequest{SessionID: "s-1", UserInput: "yes"})
	require.NoError(t, err)
	assert.Equal(t, "Do you also have a fever?", resp.Prompt)
	assert.Equal(t, 2, sessions.records["s-1"].ClarificationAttempts)
	assert.True(t, sessions.records["s-1"].AwaitingClarification)
}

func TestOverflowingDayAnswerIsNotStored(t *testing.T) {
	// A degenerate all-digit answer long enough to wrap the int parser
	// must never land in the record as a negative day count.
	huge := strings.Repeat("9", 25)
	ext := &scriptedExtractor{err: errors.New("unavailable")}
	orch, sessions := newTestOrchestrator(ext, &memReports{}, &fakeQueryStore{})
	ctx := context.Background()

	seed := pkg.NewConversationRecord("s-1")
	seed.Symptoms = []string{"fever"}
	sessions.records["s-1"] = seed

	_, err := orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: "s-1", UserInput: huge})
	require.NoError(t, err)
	assert.Nil(t, sessions.records["s-1"].DaysSinceOnset)

	exp := recordThrough(StageExposure)
	exp.PartialLocation = "Joe's Diner, Austin"
	sessions.records["s-2"] = exp

	_, err = orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: "s-2", UserInput: huge})
	require.NoError(t, err)
	assert.Nil(t, sessions.records["s-2"].PartialDays)
}

func TestDiagnosisTransportFailureWithoutPendingQuestion(t *testing.T) {
	// No clarifier question is outstanding, so the handler cannot re-ask
	// one; it must fall back to a neutral retry prompt, not re-request the
	// symptoms it already holds.
	ext := &scriptedExtractor{err: errors.New("rate limited")}
	orch, sessions := newTestOrchestrator(ext, &memReports{}, &fakeQueryStore{})

	sessions.records["s-1"] = recordThrough(StageDiagnosis)

	resp, err := orch.ProcessTurn(context.Background(), pkg.TurnRequest{SessionID: "s-1", UserInput: ""})
	require.NoError(t, err)
	assert.Equal(t, promptTryAgain, resp.Prompt)
	assert.Nil(t, sessions.records["s-1"].Diagnosis)
	assert.Equal(t, 0, sessions.records["s-1"].ClarificationAttempts)
}

func TestSubmissionFailureRetriesNextTurn(t *testing.T) {
	ext := &scriptedExtractor{err: errors.New("unused")}
	reports := &memReports{err: errors.New("db down")}
	orch, sessions := newTestOrchestrator(ext, reports, &fakeQueryStore{regionID: "region-1"})
	ctx := context.Background()

	sessions.records["s-1"] = recordThrough(StageSubmission)

	resp, err := orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, promptTryAgain, resp.Prompt)
	assert.Nil(t, sessions.records["s-1"].Report)
	assert.Equal(t, StageSubmission, ResolveStage(sessions.records["s-1"]))

	// Store recovers: the retry produces the same deterministic report id
	// base and the conversation runs to completion on fallback advice.
	reports.err = nil
	resp, err = orch.ProcessTurn(ctx, pkg.TurnRequest{SessionID: "s-1"})
	require.NoError(t, err)
	require.Len(t, reports.inserted, 1)
	require.NotNil(t, resp.Report)
	assert.Equal(t, pkg.VerdictNoMatch, resp.ClusterValidation.Verdict)
	require.NotNil(t, resp.CareAdvice)
	assert.NotEmpty(t, resp.CareAdvice.SelfCareTips)
	assert.Equal(t, StageDone, ResolveStage(sessions.records["s-1"]))
}

func TestPassiveCoordinatesSkipLocationQuestions(t *testing.T) {
	ext := &scriptedExtractor{replies: []string{
		`{"symptoms": ["fever", "cough"], "days_since_onset": 1}`,
	}}
	orch, sessions := newTestOrchestrator(ext, &memReports{}, &fakeQueryStore{})

	lat, lon := 30.2672, -97.7431
	resp, err := orch.ProcessTurn(context.Background(), pkg.TurnRequest{
		UserInput: "fever and cough since yesterday",
		Latitude:  &lat,
		Longitude: &lon,
	})
	require.NoError(t, err)

	rec := sessions.records[resp.SessionID]
	require.True(t, rec.LocationComplete())
	assert.Equal(t, "Austin, Texas", rec.Location.Name)
	assert.Equal(t, pkg.LocationUrban, rec.Location.Category)
}

func TestReportIDDeterministic(t *testing.T) {
	assert.Equal(t, reportID("s-1", 4), reportID("s-1", 4))
	assert.NotEqual(t, reportID("s-1", 4), reportID("s-1", 5))
	assert.NotEqual(t, reportID("s-1", 4), reportID("s-2", 4))
}

func TestWKTPoint(t *testing.T) {
	lat, lon := 30.2672, -97.7431
	assert.Equal(t, "POINT(-97.743100 30.267200)", wktPoint(&lat, &lon))
	assert.Equal(t, "", wktPoint(nil, &lon))
	assert.Equal(t, "", wktPoint(&lat, nil))
}
