package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"healthsignal/internal/config"
	"healthsignal/pkg"
)

// QueryStore answers the spatial and temporal questions the matcher asks.
// Implemented by db.QueryStore; mocked in tests.
type QueryStore interface {
	RegionFor(ctx context.Context, lat, lon float64) (string, error)
	AdjacentRegions(ctx context.Context, regionID string) ([]string, error)
	ActiveClusters(ctx context.Context, regionIDs []string, minSize int, minConsensus float64, recencyWindow time.Duration) ([]pkg.Cluster, error)
}

// consensus floors for the verdict ladder. At or above the alternative
// floor a cluster is allowed to argue for a different diagnosis; below the
// weak-match floor it is too mixed to say anything at all.
const (
	alternativeConsensusFloor = 0.60
	weakMatchConsensusFloor   = 0.40
)

// acceptance thresholds for an alternative diagnosis. A cluster whose
// predominant category corroborates the user's inferred exposure pathway
// is trusted more than one that is merely geographically coincident.
const (
	acceptThresholdCategoryMatch    = 0.60
	acceptThresholdCategoryMismatch = 0.70
)

// MatchInput is everything the matcher needs from a finalized report.
type MatchInput struct {
	Disease           string
	Confidence        float64
	Category          pkg.IllnessCategory
	Latitude          float64
	Longitude         float64
	DaysSinceExposure int
}

// Matcher cross-checks a diagnosis against active outbreak clusters and
// adjusts confidence when cluster evidence is strong. All failures degrade
// to NO_MATCH: outbreak validation is best-effort.
type Matcher struct {
	store QueryStore
	cfg   config.MatcherConfig
	log   *zap.Logger
	now   func() time.Time
}

// NewMatcher constructs a matcher over the given query store.
func NewMatcher(store QueryStore, cfg config.MatcherConfig, log *zap.Logger) *Matcher {
	return &Matcher{store: store, cfg: cfg, log: log, now: time.Now}
}

// Validate runs the full match pipeline: region resolution, adjacency
// expansion, candidate query, temporal filtering, ranking, verdict.
func (m *Matcher) Validate(ctx context.Context, in MatchInput) *pkg.ClusterValidation {
	noMatch := func(reason string) *pkg.ClusterValidation {
		return &pkg.ClusterValidation{
			Verdict:            pkg.VerdictNoMatch,
			RefinedDiagnosis:   in.Disease,
			RefinedConfidence:  in.Confidence,
			OriginalDiagnosis:  in.Disease,
			OriginalConfidence: in.Confidence,
			Reasoning:          reason,
		}
	}

	regionID, err := m.store.RegionFor(ctx, in.Latitude, in.Longitude)
	if err != nil {
		m.log.Info("region lookup failed, skipping cluster validation",
			zap.Float64("lat", in.Latitude), zap.Float64("lon", in.Longitude), zap.Error(err))
		return noMatch("No active outbreak clusters match your exposure location and timing.")
	}

	regionIDs, err := m.store.AdjacentRegions(ctx, regionID)
	if err != nil {
		m.log.Warn("adjacency expansion failed, using exact region only",
			zap.String("region", regionID), zap.Error(err))
		regionIDs = []string{regionID}
	}

	recency := time.Duration(m.cfg.RecencyWindowDays) * 24 * time.Hour
	candidates, err := m.store.ActiveClusters(ctx, regionIDs, m.cfg.MinClusterSize, m.cfg.MinConsensus, recency)
	if err != nil {
		m.log.Warn("cluster query failed, degrading to NO_MATCH", zap.Error(err))
		return noMatch("No active outbreak clusters match your exposure location and timing.")
	}

	exposureDate := m.now().AddDate(0, 0, -in.DaysSinceExposure)
	filtered := candidates[:0]
	for _, c := range candidates {
		if m.temporalOverlap(c, exposureDate) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return noMatch("No active outbreak clusters match your exposure location and timing.")
	}

	best := m.rank(filtered, in.Category)
	verdict := m.verdict(in, best)
	m.log.Info("cluster validation complete",
		zap.String("cluster", best.ID),
		zap.String("verdict", string(verdict.Verdict)),
		zap.Float64("refined_confidence", verdict.RefinedConfidence))
	return verdict
}

// temporalOverlap applies the three temporal rules: padded activity
// window, incubation ceiling before first report, and a short grace
// period after the last one.
func (m *Matcher) temporalOverlap(c pkg.Cluster, exposure time.Time) bool {
	windowStart := c.FirstSeen.Add(-m.cfg.WindowPadBefore)
	windowEnd := c.LastSeen.Add(m.cfg.WindowPadAfter)
	if !exposure.Before(windowStart) && !exposure.After(windowEnd) {
		return true
	}

	incubation := time.Duration(m.cfg.IncubationDays) * 24 * time.Hour
	if exposure.Before(c.FirstSeen) && c.FirstSeen.Sub(exposure) <= incubation {
		return true
	}

	grace := time.Duration(m.cfg.GraceDays) * 24 * time.Hour
	if exposure.After(c.LastSeen) && exposure.Sub(c.LastSeen) <= grace &&
		m.now().Sub(c.LastSeen) <= 14*24*time.Hour {
		return true
	}
	return false
}

// rank orders candidates by category match first, then consensus, size
// and recency, and returns the winner.
func (m *Matcher) rank(candidates []pkg.Cluster, category pkg.IllnessCategory) pkg.Cluster {
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		mi, mj := ci.PredominantCategory == category, cj.PredominantCategory == category
		if mi != mj {
			return mi
		}
		if ci.ConsensusRatio != cj.ConsensusRatio {
			return ci.ConsensusRatio > cj.ConsensusRatio
		}
		if ci.Size != cj.Size {
			return ci.Size > cj.Size
		}
		return ci.LastSeen.After(cj.LastSeen)
	})
	return candidates[0]
}

func (m *Matcher) verdict(in MatchInput, c pkg.Cluster) *pkg.ClusterValidation {
	base := pkg.ClusterValidation{
		ClusterFound:       true,
		Cluster:            &c,
		RefinedDiagnosis:   in.Disease,
		RefinedConfidence:  in.Confidence,
		OriginalDiagnosis:  in.Disease,
		OriginalConfidence: in.Confidence,
	}

	// Same disease: corroboration, boost confidence.
	if strings.EqualFold(in.Disease, c.PredominantDisease) {
		boost := ConfidenceBoost(c.Size, c.ConsensusRatio)
		refined := in.Confidence + boost
		if refined > 0.99 {
			refined = 0.99
		}
		base.Verdict = pkg.VerdictConfirmed
		base.ConfidenceBoost = boost
		base.RefinedConfidence = refined
		base.Reasoning = fmt.Sprintf(
			"Your diagnosis matches an active outbreak cluster of %d cases with %.0f%% consensus. This strongly supports your diagnosis.",
			c.Size, c.ConsensusRatio*100)
		return &base
	}

	// Different disease with meaningful consensus: consider an
	// alternative. The boundary value 0.60 is evaluated inclusively.
	if c.ConsensusRatio >= alternativeConsensusFloor {
		categoryMatch := c.PredominantCategory == in.Category
		score := AlternativeScore(c.Size, c.ConsensusRatio, categoryMatch)
		threshold := acceptThresholdCategoryMismatch
		if categoryMatch {
			threshold = acceptThresholdCategoryMatch
		}
		if score >= threshold {
			base.Verdict = pkg.VerdictAlternative
			base.RefinedDiagnosis = c.PredominantDisease
			base.RefinedConfidence = score
			base.Reasoning = fmt.Sprintf(
				"While your symptoms suggest %s, %d people exposed at the same location were diagnosed with %s (%.0f%% consensus). Consider discussing this with your healthcare provider.",
				in.Disease, c.Size, c.PredominantDisease, c.ConsensusRatio*100)
			return &base
		}
		base.Verdict = pkg.VerdictWeakMatch
		base.Reasoning = fmt.Sprintf(
			"Your exposure location matches a cluster of %d cases, most commonly %s (%.0f%%), but the evidence is not strong enough to revise your %s diagnosis.",
			c.Size, c.PredominantDisease, c.ConsensusRatio*100, in.Disease)
		return &base
	}

	if c.ConsensusRatio >= weakMatchConsensusFloor {
		base.Verdict = pkg.VerdictWeakMatch
		base.Reasoning = fmt.Sprintf(
			"Your exposure location matches a cluster of %d cases with varied diagnoses. Most common was %s (%.0f%%), which doesn't strongly contradict your %s diagnosis.",
			c.Size, c.PredominantDisease, c.ConsensusRatio*100, in.Disease)
		return &base
	}

	base.Verdict = pkg.VerdictLowConsensus
	base.Reasoning = fmt.Sprintf(
		"A cluster of %d cases exists at your exposure location, but diagnoses vary widely (consensus %.0f%%). Your %s diagnosis stands.",
		c.Size, c.ConsensusRatio*100, in.Disease)
	return &base
}

// ConfidenceBoost is the CONFIRMED-verdict boost: a step function of
// cluster size plus a step function of consensus ratio. Monotonically
// non-decreasing in both; the caller caps adjusted confidence at 0.99.
func ConfidenceBoost(size int, consensus float64) float64 {
	var sizeBoost float64
	switch {
	case size >= 10:
		sizeBoost = 0.20
	case size >= 5:
		sizeBoost = 0.12
	case size >= 3:
		sizeBoost = 0.08
	}

	var consensusBoost float64
	switch {
	case consensus >= 0.85:
		consensusBoost = 0.10
	case consensus >= 0.75:
		consensusBoost = 0.05
	}
	return sizeBoost + consensusBoost
}

// AlternativeScore is the confidence assigned to a cluster-suggested
// alternative diagnosis. The base trusts category-corroborating clusters
// more and is deliberately conservative on a category mismatch, so a
// geographically coincident but clinically distinct cluster does not
// override the presentation.
func AlternativeScore(size int, consensus float64, categoryMatch bool) float64 {
	base, ceiling := 0.40, 0.85
	if categoryMatch {
		base, ceiling = 0.55, 0.90
	}

	var sizeBoost float64
	switch {
	case size >= 10:
		sizeBoost = 0.15
	case size >= 5:
		sizeBoost = 0.10
	default:
		sizeBoost = 0.05
	}

	consensusBoost := (consensus - alternativeConsensusFloor) * 0.5
	if consensusBoost > 0.10 {
		consensusBoost = 0.10
	}
	if consensusBoost < 0 {
		consensusBoost = 0
	}

	score := base + sizeBoost + consensusBoost
	if score > ceiling {
		score = ceiling
	}
	return score
}

// AlertMessage renders the user-facing notice for a verdict, empty for
// NO_MATCH.
func AlertMessage(v *pkg.ClusterValidation) string {
	if v == nil || !v.ClusterFound || v.Cluster == nil {
		return ""
	}
	c := v.Cluster
	switch v.Verdict {
	case pkg.VerdictConfirmed:
		return fmt.Sprintf(
			"OUTBREAK CONFIRMATION: an active cluster of %d cases is linked to your reported exposure location. Your %s diagnosis matches the outbreak pattern (%.0f%% of cases). Confidence updated from %.0f%% to %.0f%%.",
			c.Size, v.RefinedDiagnosis, c.ConsensusRatio*100,
			v.OriginalConfidence*100, v.RefinedConfidence*100)
	case pkg.VerdictAlternative:
		return fmt.Sprintf(
			"ALTERNATIVE DIAGNOSIS SUGGESTED: %d people exposed at the same location were diagnosed with %s (%.0f%% consensus). Updating your diagnosis from %s to %s with %.0f%% confidence. Please discuss this with your healthcare provider.",
			c.Size, v.RefinedDiagnosis, c.ConsensusRatio*100,
			v.OriginalDiagnosis, v.RefinedDiagnosis, v.RefinedConfidence*100)
	case pkg.VerdictWeakMatch:
		return fmt.Sprintf(
			"CLUSTER INFORMATION: %d illness reports are linked to your exposure location, most commonly %s (%.0f%%). Your diagnosis remains unchanged, but we're flagging this cluster activity for your awareness.",
			c.Size, c.PredominantDisease, c.ConsensusRatio*100)
	case pkg.VerdictLowConsensus:
		return fmt.Sprintf(
			"CLUSTER DETECTED: %d people exposed at your reported location have reported varied illnesses. The diagnoses are too mixed to confirm or refute yours; your original diagnosis stands.",
			c.Size)
	}
	return ""
}
