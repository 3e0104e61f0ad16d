package geo

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// Algorithm selects the supertract clustering strategy.
type Algorithm string

const (
	AlgorithmHierarchical Algorithm = "hierarchical"
	AlgorithmKMeans       Algorithm = "kmeans"
	AlgorithmHDBSCAN      Algorithm = "hdbscan"
)

// ParseAlgorithm converts a configuration string into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case AlgorithmHierarchical, AlgorithmKMeans, AlgorithmHDBSCAN:
		return a, nil
	default:
		return "", calcerr.Validation("supertracts", s, "unknown clustering algorithm %q", s)
	}
}

// SupertractOptions controls one generation run.
type SupertractOptions struct {
	MinObservations     int
	Algorithm           Algorithm
	MaxDistanceKM       float64
	DistanceMethod      Method
	KMeansMaxIterations int
	Seed                int64
	HDBSCANMinSamples   int
	// HDBSCANEpsilonKM cuts the reachability tree. Zero picks the upper
	// quartile of the tree's edge weights.
	HDBSCANEpsilonKM float64
}

// DefaultSupertractOptions returns the production defaults.
func DefaultSupertractOptions() SupertractOptions {
	return SupertractOptions{
		MinObservations:     40,
		Algorithm:           AlgorithmHierarchical,
		MaxDistanceKM:       50,
		DistanceMethod:      MethodGreatCircle,
		KMeansMaxIterations: 100,
		Seed:                1,
		HDBSCANMinSamples:   3,
	}
}

func (o SupertractOptions) params() map[string]float64 {
	p := map[string]float64{
		"min_observations": float64(o.MinObservations),
		"max_distance_km":  o.MaxDistanceKM,
	}
	switch o.Algorithm {
	case AlgorithmKMeans:
		p["max_iterations"] = float64(o.KMeansMaxIterations)
		p["seed"] = float64(o.Seed)
	case AlgorithmHDBSCAN:
		p["min_samples"] = float64(o.HDBSCANMinSamples)
		p["epsilon_km"] = o.HDBSCANEpsilonKM
	}
	return p
}

// SupertractInput is one CBSA's tracts with their observation counts
// (RepeatSalesCount, TransactionCount, PropertyCount) populated.
type SupertractInput struct {
	CBSAID string
	Tracts []model.GeographicUnit
}

// SupertractOutput is the partition produced for one CBSA.
type SupertractOutput struct {
	Definitions []model.SupertractDefinition `json:"definitions"`
	Result      model.ClusteringResult       `json:"result"`
}

// cluster is a working group of tracts during generation.
type cluster struct {
	key          string // smallest member tract id
	members      []int
	centroid     orb.Point
	pairs        int
	transactions int
	properties   int
}

func (c *cluster) absorb(o *cluster, points []orb.Point) {
	c.members = append(c.members, o.members...)
	c.pairs += o.pairs
	c.transactions += o.transactions
	c.properties += o.properties
	if o.key < c.key {
		c.key = o.key
	}
	c.centroid = centroidOf(c.members, points)
}

func centroidOf(members []int, points []orb.Point) orb.Point {
	mp := make(orb.MultiPoint, len(members))
	for i, m := range members {
		mp[i] = points[m]
	}
	c, _ := planar.CentroidArea(mp)
	return c
}

// GenerateSupertracts partitions a CBSA's tracts into supertracts that each
// hold at least opts.MinObservations repeat-sale pairs. Tracts that cannot be
// merged into a qualifying supertract within opts.MaxDistanceKM are listed in
// the result as unclustered.
func GenerateSupertracts(in SupertractInput, opts SupertractOptions) (*SupertractOutput, error) {
	start := time.Now()
	if err := validateInput(in, opts); err != nil {
		return nil, err
	}

	total := 0
	for _, t := range in.Tracts {
		total += t.RepeatSalesCount
	}
	if total < opts.MinObservations {
		return nil, calcerr.InsufficientData("supertracts", in.CBSAID,
			"%d repeat pairs across %d tracts below threshold %d", total, len(in.Tracts), opts.MinObservations)
	}

	points := make([]orb.Point, len(in.Tracts))
	for i, t := range in.Tracts {
		points[i] = t.Point()
	}

	var seeds [][]int
	switch opts.Algorithm {
	case AlgorithmKMeans:
		k := max(1, total/opts.MinObservations)
		seeds = kmeans(points, k, opts.KMeansMaxIterations, opts.Seed)
		seeds = splitOverspread(seeds, points, opts)
	case AlgorithmHDBSCAN:
		seeds = densityClusters(points, opts)
	default:
		seeds = singletons(len(points))
	}

	clusters := make([]*cluster, 0, len(seeds))
	for _, members := range seeds {
		clusters = append(clusters, newCluster(members, in.Tracts, points))
	}
	clusters = mergeUnderThreshold(clusters, points, opts)

	out := buildOutput(in, opts, clusters)
	if len(out.Definitions) == 0 {
		return nil, calcerr.InsufficientData("supertracts", in.CBSAID,
			"no cluster within %.1f km reaches %d repeat pairs", opts.MaxDistanceKM, opts.MinObservations)
	}
	out.Result.ExecutionTime = time.Since(start)

	zap.L().With(zap.String("component", "geo.supertracts")).Info("generated supertracts",
		zap.String("cbsa_id", in.CBSAID),
		zap.String("algorithm", string(opts.Algorithm)),
		zap.Int("tracts", len(in.Tracts)),
		zap.Int("supertracts", len(out.Definitions)),
		zap.Int("unclustered", len(out.Result.UnclusteredTracts)),
		zap.Float64("coverage", out.Result.CoverageRatio),
		zap.Duration("elapsed", out.Result.ExecutionTime),
	)
	return out, nil
}

func validateInput(in SupertractInput, opts SupertractOptions) error {
	if in.CBSAID == "" {
		return calcerr.Validation("supertracts", "", "cbsa id is required")
	}
	if opts.MinObservations <= 0 {
		return calcerr.Validation("supertracts", in.CBSAID, "min observations must be positive")
	}
	if opts.MaxDistanceKM <= 0 {
		return calcerr.Validation("supertracts", in.CBSAID, "max distance must be positive")
	}
	if _, err := ParseAlgorithm(string(opts.Algorithm)); err != nil {
		return err
	}
	if _, err := ParseMethod(string(opts.DistanceMethod)); err != nil {
		return err
	}
	if len(in.Tracts) == 0 {
		return calcerr.InsufficientData("supertracts", in.CBSAID, "no tracts")
	}
	seen := make(map[string]struct{}, len(in.Tracts))
	for _, t := range in.Tracts {
		if _, dup := seen[t.ID]; dup {
			return calcerr.Validation("supertracts", t.ID, "tract listed twice for cbsa %s", in.CBSAID)
		}
		seen[t.ID] = struct{}{}
		if err := t.Validate(); err != nil {
			return err
		}
		if t.Level != model.LevelTract {
			return calcerr.Validation("supertracts", t.ID, "expected tract, got %s", t.Level)
		}
		if t.ParentID != "" && t.ParentID != in.CBSAID {
			return calcerr.Validation("supertracts", t.ID, "tract belongs to cbsa %s, not %s", t.ParentID, in.CBSAID)
		}
	}
	return nil
}

// spread is the largest distance from the centroid of members to one of
// them.
func spread(members []int, points []orb.Point, method Method) float64 {
	c := centroidOf(members, points)
	var out float64
	for _, m := range members {
		out = math.Max(out, Distance(c, points[m], method))
	}
	return out
}

// splitOverspread bisects every cluster with a tract farther than the
// distance limit from its centroid, repeating on the halves until each part
// fits or is a single tract. Parts left below the observation threshold are
// merged back by mergeUnderThreshold.
func splitOverspread(clusters [][]int, points []orb.Point, opts SupertractOptions) [][]int {
	var out [][]int
	queue := append([][]int(nil), clusters...)
	for len(queue) > 0 {
		members := queue[0]
		queue = queue[1:]
		if len(members) < 2 || spread(members, points, opts.DistanceMethod) <= opts.MaxDistanceKM {
			out = append(out, members)
			continue
		}
		sub := make([]orb.Point, len(members))
		for i, m := range members {
			sub[i] = points[m]
		}
		halves := kmeans(sub, 2, opts.KMeansMaxIterations, opts.Seed)
		if len(halves) < 2 {
			// coincident centroids cannot be separated
			out = append(out, members)
			continue
		}
		for _, h := range halves {
			part := make([]int, len(h))
			for i, j := range h {
				part[i] = members[j]
			}
			queue = append(queue, part)
		}
	}
	return out
}

func singletons(n int) [][]int {
	out := make([][]int, n)
	for i := range out {
		out[i] = []int{i}
	}
	return out
}

func newCluster(members []int, tracts []model.GeographicUnit, points []orb.Point) *cluster {
	c := &cluster{members: append([]int(nil), members...)}
	for i, m := range members {
		t := tracts[m]
		if i == 0 || t.ID < c.key {
			c.key = t.ID
		}
		c.pairs += t.RepeatSalesCount
		c.transactions += t.TransactionCount
		c.properties += t.PropertyCount
	}
	c.centroid = centroidOf(c.members, points)
	return c
}

type candidate struct {
	other *cluster
	dist  float64
}

// closer orders merge candidates by distance, then by the lower cluster key.
func closer(dist float64, key string, best candidate) bool {
	if best.other == nil {
		return true
	}
	if dist != best.dist {
		return dist < best.dist
	}
	return key < best.other.key
}

// mergeUnderThreshold repeatedly merges the closest pair of clusters in which
// at least one side is below the observation threshold and whose centroids
// are within the distance limit. It stops when every cluster qualifies or no
// such pair remains.
func mergeUnderThreshold(clusters []*cluster, points []orb.Point, opts SupertractOptions) []*cluster {
	alive := make(map[*cluster]bool, len(clusters))
	for _, c := range clusters {
		alive[c] = true
	}
	nearest := make(map[*cluster]candidate)

	findNearest := func(c *cluster) candidate {
		var best candidate
		for _, o := range clusters {
			if o == c || !alive[o] {
				continue
			}
			d := Distance(c.centroid, o.centroid, opts.DistanceMethod)
			if d > opts.MaxDistanceKM {
				continue
			}
			if closer(d, o.key, best) {
				best = candidate{other: o, dist: d}
			}
		}
		return best
	}

	for _, c := range clusters {
		if c.pairs < opts.MinObservations {
			nearest[c] = findNearest(c)
		}
	}

	for {
		var from *cluster
		var best candidate
		for _, c := range clusters {
			if !alive[c] || c.pairs >= opts.MinObservations {
				continue
			}
			cand := nearest[c]
			if cand.other == nil {
				continue
			}
			if from == nil || cand.dist < best.dist ||
				(cand.dist == best.dist && pairKey(c, cand.other) < pairKey(from, best.other)) {
				from, best = c, cand
			}
		}
		if from == nil {
			break
		}

		into := best.other
		// the merged cluster keeps the lower key's identity
		if from.key < into.key {
			from, into = into, from
		}
		into.absorb(from, points)
		alive[from] = false
		delete(nearest, from)

		for _, c := range clusters {
			if !alive[c] || c.pairs >= opts.MinObservations {
				delete(nearest, c)
				continue
			}
			cand, ok := nearest[c]
			switch {
			case c == into, !ok, cand.other == from, cand.other == into:
				nearest[c] = findNearest(c)
			default:
				d := Distance(c.centroid, into.centroid, opts.DistanceMethod)
				if d <= opts.MaxDistanceKM && closer(d, into.key, cand) {
					nearest[c] = candidate{other: into, dist: d}
				}
			}
		}
	}

	out := make([]*cluster, 0, len(clusters))
	for _, c := range clusters {
		if alive[c] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func pairKey(a, b *cluster) string {
	if a.key < b.key {
		return a.key + "|" + b.key
	}
	return b.key + "|" + a.key
}

func buildOutput(in SupertractInput, opts SupertractOptions, clusters []*cluster) *SupertractOutput {
	now := time.Now().UTC()
	params := opts.params()
	out := &SupertractOutput{
		Result: model.ClusteringResult{
			CBSAID:            in.CBSAID,
			Algorithm:         string(opts.Algorithm),
			Parameters:        params,
			TotalTracts:       len(in.Tracts),
			UnclusteredTracts: []string{},
		},
	}

	clustered := 0
	minPairs := math.MaxInt
	for _, c := range clusters {
		ids := make([]string, len(c.members))
		for i, m := range c.members {
			ids[i] = in.Tracts[m].ID
		}
		sort.Strings(ids)
		if c.pairs < opts.MinObservations {
			out.Result.UnclusteredTracts = append(out.Result.UnclusteredTracts, ids...)
			continue
		}
		n := len(out.Definitions) + 1
		out.Definitions = append(out.Definitions, model.SupertractDefinition{
			ID:                fmt.Sprintf("%s-ST%03d", in.CBSAID, n),
			CBSAID:            in.CBSAID,
			Name:              fmt.Sprintf("Supertract %d", n),
			TractIDs:          ids,
			Method:            string(opts.Algorithm),
			Parameters:        params,
			MinObservations:   opts.MinObservations,
			TotalTransactions: c.transactions,
			TotalProperties:   c.properties,
			TotalRepeatPairs:  c.pairs,
			CentroidLatitude:  c.centroid.Lat(),
			CentroidLongitude: c.centroid.Lon(),
			CreatedAt:         now,
		})
		clustered += len(ids)
		minPairs = min(minPairs, c.pairs)
	}
	sort.Strings(out.Result.UnclusteredTracts)

	out.Result.TotalSupertracts = len(out.Definitions)
	if len(out.Definitions) > 0 {
		out.Result.AverageSupertractSize = float64(clustered) / float64(len(out.Definitions))
		out.Result.MinSupertractObservations = minPairs
	}
	out.Result.CoverageRatio = float64(clustered) / float64(len(in.Tracts))
	return out
}

// Assignments maps every clustered tract to its supertract id.
func (o *SupertractOutput) Assignments() map[string]string {
	out := make(map[string]string)
	for _, d := range o.Definitions {
		for _, id := range d.TractIDs {
			out[id] = d.ID
		}
	}
	return out
}
