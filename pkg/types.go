package pkg

import "time"

// RecordVersion is stamped on every persisted ConversationRecord so the
// session store can evolve the schema without guessing.
const RecordVersion = 1

// IllnessCategory classifies the suspected transmission pathway of a
// diagnosis. It drives the exposure questions, the report alert flags and
// the cluster matcher's category-aware scoring.
type IllnessCategory string

const (
	CategoryAirborne      IllnessCategory = "airborne"
	CategoryFoodborne     IllnessCategory = "foodborne"
	CategoryWaterborne    IllnessCategory = "waterborne"
	CategoryInsectBorne   IllnessCategory = "insect-borne"
	CategoryDirectContact IllnessCategory = "direct-contact"
	CategoryOther         IllnessCategory = "other"
)

// Transmissible reports whether the category counts toward the report's
// alertable flag.
func (c IllnessCategory) Transmissible() bool {
	switch c {
	case CategoryAirborne, CategoryFoodborne, CategoryWaterborne, CategoryInsectBorne:
		return true
	}
	return false
}

// LocationCategory describes the density of the user's current area.
type LocationCategory string

const (
	LocationUrban    LocationCategory = "urban"
	LocationSuburban LocationCategory = "suburban"
	LocationRural    LocationCategory = "rural"
)

// Diagnosis is the structured result of the diagnosis stage.
type Diagnosis struct {
	Name       string          `json:"final_diagnosis"`
	Category   IllnessCategory `json:"illness_category"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty"`

	// Set by cluster validation when the verdict rewrites the diagnosis.
	ClusterValidated   bool    `json:"cluster_validated,omitempty"`
	OriginalName       string  `json:"original_diagnosis,omitempty"`
	OriginalConfidence float64 `json:"original_confidence,omitempty"`
}

// ClarifierExchange is one question/answer round of the diagnosis
// clarification sub-loop.
type ClarifierExchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Exposure records where and when the user believes they were infected.
// Coordinates may be nil when geocoding failed; they are always written
// together with the name, never on their own.
type Exposure struct {
	LocationName string   `json:"location_name"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	DaysAgo      int      `json:"days_ago"`
}

// CurrentLocation is where the user is staying while ill, distinct from
// the exposure site.
type CurrentLocation struct {
	Name      string           `json:"name"`
	Latitude  *float64         `json:"latitude,omitempty"`
	Longitude *float64         `json:"longitude,omitempty"`
	Category  LocationCategory `json:"category,omitempty"`
}

// Report is the immutable snapshot persisted at submission time. It
// flattens the conversation record and adds the derived alert flags and
// WKT geo-points.
type Report struct {
	ID          string    `json:"report_id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"report_timestamp"`
	SymptomText string    `json:"symptom_text"`
	DaysOnset   int       `json:"days_since_symptom_onset"`

	Diagnosis  string          `json:"final_diagnosis"`
	Category   IllnessCategory `json:"illness_category"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty"`

	ExposureLocationName string   `json:"exposure_location_name"`
	ExposureLatitude     *float64 `json:"exposure_latitude,omitempty"`
	ExposureLongitude    *float64 `json:"exposure_longitude,omitempty"`
	DaysSinceExposure    int      `json:"days_since_exposure"`

	CurrentLocationName string           `json:"current_location_name"`
	CurrentLatitude     *float64         `json:"current_latitude,omitempty"`
	CurrentLongitude    *float64         `json:"current_longitude,omitempty"`
	LocationCategory    LocationCategory `json:"location_category,omitempty"`

	// "POINT(lon lat)" strings, empty when coordinates are unknown.
	ExposureGeoPoint string `json:"exposure_geopoint,omitempty"`
	CurrentGeoPoint  string `json:"current_geopoint,omitempty"`

	ContagiousFlag bool `json:"contagious_flag"`
	AlertableFlag  bool `json:"alertable_flag"`
}

// Verdict is the outcome of matching a report against outbreak clusters.
type Verdict string

const (
	VerdictNoMatch      Verdict = "NO_MATCH"
	VerdictConfirmed    Verdict = "CONFIRMED"
	VerdictAlternative  Verdict = "ALTERNATIVE"
	VerdictWeakMatch    Verdict = "WEAK_MATCH"
	VerdictLowConsensus Verdict = "LOW_CONSENSUS"
)

// Cluster is an active outbreak cluster produced by the query store. The
// core only reads clusters; their lifecycle is managed externally.
type Cluster struct {
	ID                  string          `json:"cluster_id"`
	Size                int             `json:"cluster_size"`
	PredominantDisease  string          `json:"predominant_disease"`
	PredominantCategory IllnessCategory `json:"predominant_category"`
	ConsensusRatio      float64         `json:"consensus_ratio"`
	FirstSeen           time.Time       `json:"first_seen"`
	LastSeen            time.Time       `json:"last_seen"`
	RegionIDs           []string        `json:"region_ids"`
}

// ClusterValidation captures the matcher's verdict for a submitted report.
type ClusterValidation struct {
	ClusterFound       bool     `json:"cluster_found"`
	Cluster            *Cluster `json:"cluster,omitempty"`
	Verdict            Verdict  `json:"validation_result"`
	RefinedDiagnosis   string   `json:"refined_diagnosis"`
	RefinedConfidence  float64  `json:"refined_confidence"`
	OriginalDiagnosis  string   `json:"original_diagnosis"`
	OriginalConfidence float64  `json:"original_confidence"`
	ConfidenceBoost    float64  `json:"confidence_boost,omitempty"`
	Reasoning          string   `json:"reasoning"`
}

// CareAdvice is the terminal output of the conversation.
type CareAdvice struct {
	SelfCareTips   []string `json:"self_care_tips"`
	WhenToSeekHelp string   `json:"when_to_seek_help"`
}

// ChatMessage is one transcript entry kept for extraction context.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationRecord is the full per-session state, loaded at the start of
// each turn and saved at the end. A field is only populated once every
// field before it in the intake order is complete, which lets the resume
// resolver infer the current stage from the data alone.
type ConversationRecord struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`

	Symptoms       []string `json:"symptoms,omitempty"`
	DaysSinceOnset *int     `json:"days_since_onset,omitempty"`

	Diagnosis             *Diagnosis          `json:"diagnosis,omitempty"`
	AwaitingClarification bool                `json:"awaiting_clarification,omitempty"`
	ClarificationAttempts int                 `json:"clarification_attempts,omitempty"`
	LastClarifierQuestion string              `json:"last_clarifier_question,omitempty"`
	ClarifierHistory      []ClarifierExchange `json:"clarifier_history,omitempty"`

	Exposure        *Exposure `json:"exposure,omitempty"`
	PartialLocation string    `json:"exposure_partial_location,omitempty"`
	PartialDays     *int      `json:"exposure_partial_days,omitempty"`

	Location         *CurrentLocation `json:"current_location,omitempty"`
	PendingCityState string           `json:"pending_city_state,omitempty"`

	Report            *Report            `json:"report,omitempty"`
	ClusterValidation *ClusterValidation `json:"cluster_validation,omitempty"`
	CareAdvice        *CareAdvice        `json:"care_advice,omitempty"`

	// Capped transcript passed to the extraction service for context.
	History []ChatMessage `json:"history,omitempty"`

	// Turn counter, incremented once per processed turn. Combined with the
	// session id it yields a collision-free report identifier without any
	// process-global state.
	TurnCount int `json:"turn_count,omitempty"`
}

// NewConversationRecord returns the empty-defaults record used when a
// session id has no persisted state yet.
func NewConversationRecord(sessionID string) *ConversationRecord {
	return &ConversationRecord{Version: RecordVersion, SessionID: sessionID}
}

// SymptomsComplete reports whether both the symptom list and onset timing
// have been collected.
func (r *ConversationRecord) SymptomsComplete() bool {
	return len(r.Symptoms) > 0 && r.DaysSinceOnset != nil && *r.DaysSinceOnset >= 0
}

// DiagnosisFinal reports whether a diagnosis has been emitted and no
// clarification round is pending.
func (r *ConversationRecord) DiagnosisFinal() bool {
	return r.Diagnosis != nil && r.Diagnosis.Name != "" && !r.AwaitingClarification
}

// ExposureComplete reports whether both halves of the exposure record are
// known.
func (r *ConversationRecord) ExposureComplete() bool {
	return r.Exposure != nil && r.Exposure.LocationName != "" && r.Exposure.DaysAgo >= 0
}

// LocationComplete reports whether the current location has been resolved.
func (r *ConversationRecord) LocationComplete() bool {
	return r.Location != nil && r.Location.Name != ""
}

// TurnRequest is the body of POST /chat.
type TurnRequest struct {
	UserInput string   `json:"user_input"`
	SessionID string   `json:"session_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Latitude  *float64 `json:"current_latitude,omitempty"`
	Longitude *float64 `json:"current_longitude,omitempty"`
}

// TurnResponse is the Turn API result. Diagnosis, report, cluster
// validation and care advice are only present on the turn that produced
// them.
type TurnResponse struct {
	SessionID         string             `json:"session_id"`
	Prompt            string             `json:"console_output"`
	Diagnosis         *Diagnosis         `json:"diagnosis,omitempty"`
	Report            *Report            `json:"report,omitempty"`
	ClusterValidation *ClusterValidation `json:"cluster_validation,omitempty"`
	CareAdvice        *CareAdvice        `json:"care_advice,omitempty"`
}
