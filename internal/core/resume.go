package core

import "healthsignal/pkg"

// Stage is one step of the intake sequence. Transitions are one-way; the
// only loop is the bounded clarification sub-loop inside StageDiagnosis.
type Stage int

const (
	StageSymptoms Stage = iota
	StageDiagnosis
	StageExposure
	StageLocation
	StageSubmission
	StageClusterValidation
	StageAdvice
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageSymptoms:
		return "symptoms"
	case StageDiagnosis:
		return "diagnosis"
	case StageExposure:
		return "exposure"
	case StageLocation:
		return "location"
	case StageSubmission:
		return "submission"
	case StageClusterValidation:
		return "cluster_validation"
	case StageAdvice:
		return "advice"
	case StageDone:
		return "done"
	}
	return "unknown"
}

// resumeOrder lists, latest first, each stage's completion predicate. The
// resolver returns the stage after the first completed milestone, so an
// interrupted conversation resumes correctly from persisted data alone;
// no explicit "current stage" marker is stored.
var resumeOrder = []struct {
	next Stage
	done func(*pkg.ConversationRecord) bool
}{
	{StageDone, func(r *pkg.ConversationRecord) bool { return r.CareAdvice != nil }},
	{StageAdvice, func(r *pkg.ConversationRecord) bool { return r.ClusterValidation != nil }},
	{StageClusterValidation, func(r *pkg.ConversationRecord) bool { return r.Report != nil }},
	{StageSubmission, func(r *pkg.ConversationRecord) bool { return r.ExposureComplete() && r.LocationComplete() }},
	{StageLocation, func(r *pkg.ConversationRecord) bool { return r.ExposureComplete() }},
	{StageExposure, func(r *pkg.ConversationRecord) bool { return r.DiagnosisFinal() }},
	{StageDiagnosis, func(r *pkg.ConversationRecord) bool { return r.SymptomsComplete() }},
}

// ResolveStage is a pure function of the persisted record: it walks the
// dependency order backward and returns the earliest stage whose required
// output is still missing. Idempotent for an unchanged record.
func ResolveStage(rec *pkg.ConversationRecord) Stage {
	for _, step := range resumeOrder {
		if step.done(rec) {
			return step.next
		}
	}
	return StageSymptoms
}
