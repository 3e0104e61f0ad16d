package geo

import (
	"math"
	"math/rand"

	"github.com/paulmach/orb"
)

// project maps lon/lat points onto a local plane in kilometers so k-means
// distances are not skewed by longitude compression.
func project(points []orb.Point) []orb.Point {
	var meanLat float64
	for _, p := range points {
		meanLat += p.Lat()
	}
	meanLat /= float64(len(points))
	scale := math.Cos(radians(meanLat)) * kmPerDegree

	out := make([]orb.Point, len(points))
	for i, p := range points {
		out[i] = orb.Point{p.Lon() * scale, p.Lat() * kmPerDegree}
	}
	return out
}

func sqDist(a, b orb.Point) float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return dx*dx + dy*dy
}

// kmeans groups points into at most k clusters with seeded k-means++
// initialisation. Empty clusters are dropped.
func kmeans(points []orb.Point, k, maxIter int, seed int64) [][]int {
	n := len(points)
	if k >= n {
		return singletons(n)
	}
	xy := project(points)
	rng := rand.New(rand.NewSource(seed))

	centers := make([]orb.Point, 0, k)
	centers = append(centers, xy[rng.Intn(n)])
	d2 := make([]float64, n)
	for len(centers) < k {
		var sum float64
		for i, p := range xy {
			d2[i] = math.Inf(1)
			for _, c := range centers {
				d2[i] = math.Min(d2[i], sqDist(p, c))
			}
			sum += d2[i]
		}
		if sum == 0 {
			// every remaining point coincides with a center
			break
		}
		target := rng.Float64() * sum
		next := n - 1
		for i := range xy {
			target -= d2[i]
			if target <= 0 {
				next = i
				break
			}
		}
		centers = append(centers, xy[next])
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < max(1, maxIter); iter++ {
		changed := false
		for i, p := range xy {
			best, bestD := 0, math.Inf(1)
			for c, center := range centers {
				if d := sqDist(p, center); d < bestD {
					best, bestD = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([]orb.Point, len(centers))
		counts := make([]int, len(centers))
		for i, c := range assign {
			sums[c][0] += xy[i][0]
			sums[c][1] += xy[i][1]
			counts[c]++
		}
		for c := range centers {
			if counts[c] > 0 {
				centers[c] = orb.Point{sums[c][0] / float64(counts[c]), sums[c][1] / float64(counts[c])}
			}
		}
	}

	groups := make([][]int, len(centers))
	for i, c := range assign {
		groups[c] = append(groups[c], i)
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}
