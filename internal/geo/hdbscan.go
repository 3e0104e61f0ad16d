package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"
)

type treeEdge struct {
	a, b   int
	weight float64
}

// densityClusters is a simplified HDBSCAN: it builds the minimum spanning
// tree over mutual reachability distances, cuts edges longer than epsilon and
// keeps components with at least min_samples tracts. Members of smaller
// components come back as singletons for the threshold merge to place.
func densityClusters(points []orb.Point, opts SupertractOptions) [][]int {
	n := len(points)
	minSamples := max(1, opts.HDBSCANMinSamples)
	if n <= minSamples {
		return singletons(n)
	}

	dist := func(i, j int) float64 { return Distance(points[i], points[j], opts.DistanceMethod) }

	// The core distance counts the point itself among its min_samples
	// neighbours, so min_samples of 1 gives plain distances.
	core := make([]float64, n)
	if minSamples > 1 {
		row := make([]float64, 0, n-1)
		for i := range points {
			row = row[:0]
			for j := range points {
				if j != i {
					row = append(row, dist(i, j))
				}
			}
			sort.Float64s(row)
			core[i] = row[minSamples-2]
		}
	}
	reach := func(i, j int) float64 {
		return math.Max(dist(i, j), math.Max(core[i], core[j]))
	}

	// Prim's algorithm on the dense mutual reachability graph.
	inTree := make([]bool, n)
	best := make([]float64, n)
	parent := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
		parent[i] = -1
	}
	edges := make([]treeEdge, 0, n-1)
	cur := 0
	inTree[cur] = true
	for len(edges) < n-1 {
		next := -1
		for j := range points {
			if inTree[j] {
				continue
			}
			if d := reach(cur, j); d < best[j] {
				best[j], parent[j] = d, cur
			}
			if next < 0 || best[j] < best[next] {
				next = j
			}
		}
		inTree[next] = true
		edges = append(edges, treeEdge{a: parent[next], b: next, weight: best[next]})
		cur = next
	}

	eps := opts.HDBSCANEpsilonKM
	if eps <= 0 {
		weights := make([]float64, len(edges))
		for i, e := range edges {
			weights[i] = e.weight
		}
		sort.Float64s(weights)
		eps = stat.Quantile(0.75, stat.Empirical, weights, nil)
	}

	uf := newUnionFind(n)
	for _, e := range edges {
		if e.weight <= eps {
			uf.union(e.a, e.b)
		}
	}
	components := make(map[int][]int)
	for i := range points {
		r := uf.find(i)
		components[r] = append(components[r], i)
	}

	var out [][]int
	for _, members := range components {
		if len(members) >= minSamples {
			out = append(out, members)
			continue
		}
		for _, m := range members {
			out = append(out, []int{m})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
