package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"healthsignal/internal/config"
	"healthsignal/pkg"
)

type fakeQueryStore struct {
	regionID   string
	regionErr  error
	adjacent   []string
	adjErr     error
	clusters   []pkg.Cluster
	clusterErr error
}

func (f *fakeQueryStore) RegionFor(ctx context.Context, lat, lon float64) (string, error) {
	return f.regionID, f.regionErr
}

func (f *fakeQueryStore) AdjacentRegions(ctx context.Context, regionID string) ([]string, error) {
	if f.adjErr != nil {
		return nil, f.adjErr
	}
	if f.adjacent == nil {
		return []string{regionID}, nil
	}
	return f.adjacent, nil
}

func (f *fakeQueryStore) ActiveClusters(ctx context.Context, regionIDs []string, minSize int, minConsensus float64, recency time.Duration) ([]pkg.Cluster, error) {
	return f.clusters, f.clusterErr
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestMatcher(store *fakeQueryStore) *Matcher {
	m := NewMatcher(store, config.MatcherConfig{
		MinClusterSize:    3,
		MinConsensus:      0.30,
		RecencyWindowDays: 21,
		IncubationDays:    14,
		GraceDays:         3,
		WindowPadBefore:   24 * time.Hour,
		WindowPadAfter:    48 * time.Hour,
	}, zap.NewNop())
	m.now = func() time.Time { return fixedNow }
	return m
}

func activeCluster(size int, consensus float64, disease string, category pkg.IllnessCategory) pkg.Cluster {
	return pkg.Cluster{
		ID:                  "cluster-1",
		Size:                size,
		ConsensusRatio:      consensus,
		PredominantDisease:  disease,
		PredominantCategory: category,
		FirstSeen:           fixedNow.AddDate(0, 0, -10),
		LastSeen:            fixedNow.AddDate(0, 0, -1),
		RegionIDs:           []string{"region-1"},
	}
}

func TestValidateConfirmedBoostsConfidence(t *testing.T) {
	store := &fakeQueryStore{
		regionID: "region-1",
		clusters: []pkg.Cluster{activeCluster(10, 0.90, "Norovirus", pkg.CategoryFoodborne)},
	}
	m := newTestMatcher(store)

	v := m.Validate(context.Background(), MatchInput{
		Disease:           "Norovirus",
		Confidence:        0.60,
		Category:          pkg.CategoryFoodborne,
		Latitude:          30.27,
		Longitude:         -97.74,
		DaysSinceExposure: 4,
	})

	require.Equal(t, pkg.VerdictConfirmed, v.Verdict)
	assert.InDelta(t, 0.30, v.ConfidenceBoost, 1e-9)
	assert.InDelta(t, 0.90, v.RefinedConfidence, 1e-9)
	assert.Equal(t, 0.60, v.OriginalConfidence)
	assert.True(t, v.ClusterFound)
}

func TestValidateConfirmedCapsAtNinetyNine(t *testing.T) {
	store := &fakeQueryStore{
		regionID: "region-1",
		clusters: []pkg.Cluster{activeCluster(25, 0.95, "Influenza", pkg.CategoryAirborne)},
	}
	m := newTestMatcher(store)

	v := m.Validate(context.Background(), MatchInput{
		Disease:           "Influenza",
		Confidence:        0.85,
		Category:          pkg.CategoryAirborne,
		DaysSinceExposure: 4,
	})

	require.Equal(t, pkg.VerdictConfirmed, v.Verdict)
	assert.Equal(t, 0.99, v.RefinedConfidence)
}

func TestValidateCaseInsensitiveDiseaseMatch(t *testing.T) {
	store := &fakeQueryStore{
		regionID: "region-1",
		clusters: []pkg.Cluster{activeCluster(5, 0.80, "NOROVIRUS", pkg.CategoryFoodborne)},
	}
	m := newTestMatcher(store)

	v := m.Validate(context.Background(), MatchInput{
		Disease: "norovirus", Confidence: 0.5, Category: pkg.CategoryFoodborne, DaysSinceExposure: 4,
	})
	assert.Equal(t, pkg.VerdictConfirmed, v.Verdict)
}

func TestValidateAlternativeWhenConsensusStrong(t *testing.T) {
	store := &fakeQueryStore{
		regionID: "region-1",
		clusters: []pkg.Cluster{activeCluster(12, 0.80, "Salmonellosis", pkg.CategoryFoodborne)},
	}
	m := newTestMatcher(store)

	v := m.Validate(context.Background(), MatchInput{
		Disease:           "Gastroenteritis",
		Confidence:        0.55,
		Category:          pkg.CategoryFoodborne,
		DaysSinceExposure: 3,
	})

	require.Equal(t, pkg.VerdictAlternative, v.Verdict)
	assert.Equal(t, "Salmonellosis", v.RefinedDiagnosis)
	assert.Equal(t, "Gastroenteritis", v.OriginalDiagnosis)
	// base 0.55 + size 0.15 + consensus min((0.80-0.60)*0.5, 0.10) = 0.80
	assert.InDelta(t, 0.80, v.RefinedConfidence, 1e-9)
}

func TestValidateCategoryMismatchNeedsHigherScore(t *testing.T) {
	// Same cluster, but the user's pathway is airborne while the cluster is
	// foodborne: base drops to 0.40 and the ladder lands on WEAK_MATCH.
	store := &fakeQueryStore{
		regionID: "region-1",
		clusters: []pkg.Cluster{activeCluster(12, 0.80, "Salmonellosis", pkg.CategoryFoodborne)},
	}
	m := newTestMatcher(store)

	v := m.Validate(context.Background(), MatchInput{
		Disease:           "Bronchitis",
		Confidence:        0.55,
		Category:          pkg.CategoryAirborne,
		DaysSinceExposure: 3,
	})

	// 0.40 + 0.15 + 0.10 = 0.65 < 0.70 mismatch threshold
	assert.Equal(t, pkg.VerdictWeakMatch, v.Verdict)
	assert.Equal(t, "Bronchitis", v.RefinedDiagnosis)
	assert.Equal(t, 0.55, v.RefinedConfidence)
}

func TestValidateConsensusBoundaryInclusive(t *testing.T) {
	// Consensus exactly 0.60 is still evaluated for an alternative
	// diagnosis; whether it is accepted then depends on the category.
	tests := []struct {
		name     string
		category pkg.IllnessCategory
		verdict  pkg.Verdict
		refined  float64
	}{
		// base 0.55 + size 0.15 + consensus 0 = 0.70 >= 0.60 threshold
		{"category match accepted", pkg.CategoryFoodborne, pkg.VerdictAlternative, 0.70},
		// base 0.40 + size 0.15 + consensus 0 = 0.55 < 0.70 threshold
		{"category mismatch rejected", pkg.CategoryAirborne, pkg.VerdictWeakMatch, 0.55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeQueryStore{
				regionID: "region-1",
				clusters: []pkg.Cluster{activeCluster(10, 0.60, "Salmonellosis", pkg.CategoryFoodborne)},
			}
			m := newTestMatcher(store)

			v := m.Validate(context.Background(), MatchInput{
				Disease:           "Gastroenteritis",
				Confidence:        0.55,
				Category:          tt.category,
				DaysSinceExposure: 3,
			})
			require.Equal(t, tt.verdict, v.Verdict)
			assert.InDelta(t, tt.refined, v.RefinedConfidence, 1e-9)
			if tt.verdict == pkg.VerdictAlternative {
				assert.Equal(t, "Salmonellosis", v.RefinedDiagnosis)
			} else {
				assert.Equal(t, "Gastroenteritis", v.RefinedDiagnosis)
			}
		})
	}
}

func TestValidateWeakMatchLargeClusterMixedDiagnoses(t *testing.T) {
	store := &fakeQueryStore{
		regionID: "region-1",
		clusters: []pkg.Cluster{activeCluster(27, 0.44, "Giardiasis", pkg.CategoryWaterborne)},
	}
	m := newTestMatcher(store)

	v := m.Validate(context.Background(), MatchInput{
		Disease:           "Gastroenteritis",
		Confidence:        0.50,
		Category:          pkg.CategoryFoodborne,
		DaysSinceExposure: 3,
	})

	assert.Equal(t, pkg.VerdictWeakMatch, v.Verdict)
	assert.Equal(t, "Gastroenteritis", v.RefinedDiagnosis)
	assert.Equal(t, 0.50, v.RefinedConfidence)
}

func TestValidateLowConsensusBelowFloor(t *testing.T) {
	store := &fakeQueryStore{
		regionID: "region-1",
		clusters: []pkg.Cluster{activeCluster(9, 0.35, "Norovirus", pkg.CategoryFoodborne)},
	}
	m := newTestMatcher(store)

	v := m.Validate(context.Background(), MatchInput{
		Disease: "Influenza", Confidence: 0.6, Category: pkg.CategoryAirborne, DaysSinceExposure: 3,
	})

	assert.Equal(t, pkg.VerdictLowConsensus, v.Verdict)
	assert.Equal(t, 0.6, v.RefinedConfidence)
}

func TestValidateExposureTooOldIsNoMatch(t *testing.T) {
	store := &fakeQueryStore{
		regionID: "region-1",
		clusters: []pkg.Cluster{activeCluster(15, 0.90, "Norovirus", pkg.CategoryFoodborne)},
	}
	m := newTestMatcher(store)

	// 35 days before the cluster window opened, far beyond the incubation
	// ceiling.
	v := m.Validate(context.Background(), MatchInput{
		Disease: "Norovirus", Confidence: 0.6, Category: pkg.CategoryFoodborne, DaysSinceExposure: 45,
	})

	assert.Equal(t, pkg.VerdictNoMatch, v.Verdict)
	assert.False(t, v.ClusterFound)
	assert.Equal(t, 0.6, v.RefinedConfidence)
}

func TestValidateStaleClusterAndOldExposure(t *testing.T) {
	// Exposure 35 days ago, cluster window ended 16 days ago: outside the
	// padded window, more than the incubation ceiling before first_seen,
	// and the cluster is too old for the grace rule.
	c := activeCluster(12, 0.88, "Norovirus", pkg.CategoryFoodborne)
	c.FirstSeen = fixedNow.AddDate(0, 0, -20)
	c.LastSeen = fixedNow.AddDate(0, 0, -16)
	store := &fakeQueryStore{regionID: "region-1", clusters: []pkg.Cluster{c}}
	m := newTestMatcher(store)

	v := m.Validate(context.Background(), MatchInput{
		Disease: "Norovirus", Confidence: 0.6, Category: pkg.CategoryFoodborne, DaysSinceExposure: 35,
	})
	assert.Equal(t, pkg.VerdictNoMatch, v.Verdict)
}

func TestTemporalOverlapRules(t *testing.T) {
	m := newTestMatcher(&fakeQueryStore{})
	c := pkg.Cluster{
		FirstSeen: fixedNow.AddDate(0, 0, -10),
		LastSeen:  fixedNow.AddDate(0, 0, -2),
	}

	tests := []struct {
		name     string
		exposure time.Time
		want     bool
	}{
		{"inside window", fixedNow.AddDate(0, 0, -5), true},
		{"within pad before first_seen", c.FirstSeen.Add(-12 * time.Hour), true},
		{"within pad after last_seen", c.LastSeen.Add(36 * time.Hour), true},
		{"incubation period before first_seen", c.FirstSeen.AddDate(0, 0, -12), true},
		{"beyond incubation ceiling", c.FirstSeen.AddDate(0, 0, -20), false},
		{"grace period after last_seen", c.LastSeen.AddDate(0, 0, 3).Add(-time.Hour), true},
		{"beyond grace period", c.LastSeen.AddDate(0, 0, 5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.temporalOverlap(c, tt.exposure))
		})
	}
}

func TestTemporalGraceRequiresRecentCluster(t *testing.T) {
	m := newTestMatcher(&fakeQueryStore{})
	// Cluster ended 20 days ago: the grace rule is off even for an exposure
	// just past the padded window.
	c := pkg.Cluster{
		FirstSeen: fixedNow.AddDate(0, 0, -40),
		LastSeen:  fixedNow.AddDate(0, 0, -20),
	}
	assert.False(t, m.temporalOverlap(c, c.LastSeen.Add(60*time.Hour)))
}

func TestValidateDegradesOnStoreErrors(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeQueryStore
	}{
		{"region lookup fails", &fakeQueryStore{regionErr: errors.New("boom")}},
		{"cluster query fails", &fakeQueryStore{regionID: "region-1", clusterErr: errors.New("boom")}},
		{"no clusters", &fakeQueryStore{regionID: "region-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMatcher(tt.store)
			v := m.Validate(context.Background(), MatchInput{
				Disease: "Norovirus", Confidence: 0.6, Category: pkg.CategoryFoodborne, DaysSinceExposure: 3,
			})
			assert.Equal(t, pkg.VerdictNoMatch, v.Verdict)
			assert.Equal(t, 0.6, v.RefinedConfidence)
		})
	}
}

func TestValidateAdjacencyFailureStillMatches(t *testing.T) {
	store := &fakeQueryStore{
		regionID: "region-1",
		adjErr:   errors.New("boom"),
		clusters: []pkg.Cluster{activeCluster(5, 0.80, "Norovirus", pkg.CategoryFoodborne)},
	}
	m := newTestMatcher(store)
	v := m.Validate(context.Background(), MatchInput{
		Disease: "Norovirus", Confidence: 0.6, Category: pkg.CategoryFoodborne, DaysSinceExposure: 3,
	})
	assert.Equal(t, pkg.VerdictConfirmed, v.Verdict)
}

func TestRankPrefersCategoryThenConsensus(t *testing.T) {
	m := newTestMatcher(&fakeQueryStore{})
	a := activeCluster(20, 0.95, "Influenza", pkg.CategoryAirborne)
	a.ID = "airborne"
	b := activeCluster(5, 0.70, "Norovirus", pkg.CategoryFoodborne)
	b.ID = "foodborne"

	best := m.rank([]pkg.Cluster{a, b}, pkg.CategoryFoodborne)
	assert.Equal(t, "foodborne", best.ID)

	best = m.rank([]pkg.Cluster{a, b}, pkg.CategoryWaterborne)
	assert.Equal(t, "airborne", best.ID, "no category match: highest consensus wins")
}

func TestConfidenceBoostSteps(t *testing.T) {
	tests := []struct {
		size      int
		consensus float64
		want      float64
	}{
		{10, 0.90, 0.30},
		{10, 0.80, 0.25},
		{5, 0.85, 0.22},
		{5, 0.75, 0.17},
		{3, 0.70, 0.08},
		{3, 0.90, 0.18},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ConfidenceBoost(tt.size, tt.consensus), 1e-9,
			"size=%d consensus=%.2f", tt.size, tt.consensus)
	}
}

func TestConfidenceBoostMonotonic(t *testing.T) {
	sizes := []int{3, 4, 5, 9, 10, 50}
	consensus := []float64{0.40, 0.60, 0.75, 0.85, 0.99}

	for _, c := range consensus {
		prev := -1.0
		for _, s := range sizes {
			b := ConfidenceBoost(s, c)
			assert.GreaterOrEqual(t, b, prev, "boost must not decrease with size")
			prev = b
		}
	}
	for _, s := range sizes {
		prev := -1.0
		for _, c := range consensus {
			b := ConfidenceBoost(s, c)
			assert.GreaterOrEqual(t, b, prev, "boost must not decrease with consensus")
			prev = b
		}
	}
}

func TestAlternativeScoreCeilings(t *testing.T) {
	assert.LessOrEqual(t, AlternativeScore(100, 0.99, true), 0.90)
	assert.LessOrEqual(t, AlternativeScore(100, 0.99, false), 0.85)
	assert.Greater(t, AlternativeScore(10, 0.80, true), AlternativeScore(10, 0.80, false))
}
