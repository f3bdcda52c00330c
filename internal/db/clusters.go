package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"healthsignal/pkg"
)

// ErrRegionNotFound is returned when a coordinate falls outside every
// known region polygon.
var ErrRegionNotFound = errors.New("no region contains the given point")

// adjacencyDistanceMeters widens region adjacency beyond shared
// boundaries to absorb geocoding imprecision.
const adjacencyDistanceMeters = 500

// QueryStore answers the spatial and temporal questions the cluster
// matcher asks: which region a point falls in, which regions neighbor it,
// and which clusters are active there.
type QueryStore struct {
	DB *sql.DB
}

// NewQueryStore wraps an existing sql.DB.
func NewQueryStore(db *sql.DB) *QueryStore { return &QueryStore{DB: db} }

// RegionFor resolves a coordinate to its containing region via
// point-in-polygon lookup.
func (s *QueryStore) RegionFor(ctx context.Context, lat, lon float64) (string, error) {
	var regionID string
	err := s.DB.QueryRowContext(ctx,
		`SELECT region_id FROM regions
         WHERE ST_Within(ST_SetSRID(ST_MakePoint($1, $2), 4326), geom)
         LIMIT 1`,
		lon, lat,
	).Scan(&regionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRegionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("region lookup (%f, %f): %w", lat, lon, err)
	}
	return regionID, nil
}

// AdjacentRegions returns all regions sharing a boundary with, or within
// a small fixed distance of, the given region. The result includes the
// region itself.
func (s *QueryStore) AdjacentRegions(ctx context.Context, regionID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`WITH target AS (
            SELECT geom FROM regions WHERE region_id = $1
         )
         SELECT r.region_id
         FROM regions r, target t
         WHERE ST_Intersects(r.geom, t.geom)
            OR ST_DWithin(r.geom::geography, t.geom::geography, $2)`,
		regionID, adjacencyDistanceMeters,
	)
	if err != nil {
		return nil, fmt.Errorf("adjacent regions for %s: %w", regionID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		// Region exists queries can legitimately return nothing when the
		// id is unknown; fall back to the id itself so matching still has
		// an exact-region chance.
		ids = []string{regionID}
	}
	return ids, nil
}

// ActiveClusters returns clusters whose covered regions intersect the
// given set, whose size and consensus pass the minimums, and whose last
// report is within the recency window. Ordered by consensus, then size,
// then recency; the matcher applies category-aware ranking on top.
func (s *QueryStore) ActiveClusters(ctx context.Context, regionIDs []string, minSize int, minConsensus float64, recencyWindow time.Duration) ([]pkg.Cluster, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT cluster_id, cluster_size, predominant_disease, predominant_category,
                consensus_ratio, first_seen, last_seen, region_ids
         FROM clusters
         WHERE region_ids && $1
           AND cluster_size >= $2
           AND consensus_ratio >= $3
           AND last_seen >= NOW() - $4::interval
         ORDER BY consensus_ratio DESC, cluster_size DESC, last_seen DESC`,
		pq.Array(regionIDs), minSize, minConsensus,
		fmt.Sprintf("%d seconds", int(recencyWindow.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("active clusters: %w", err)
	}
	defer rows.Close()

	var clusters []pkg.Cluster
	for rows.Next() {
		var c pkg.Cluster
		var category string
		var regions pq.StringArray
		if err := rows.Scan(
			&c.ID, &c.Size, &c.PredominantDisease, &category,
			&c.ConsensusRatio, &c.FirstSeen, &c.LastSeen, &regions,
		); err != nil {
			return nil, err
		}
		c.PredominantCategory = pkg.IllnessCategory(category)
		c.RegionIDs = regions
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}
