package topics

import (
	"fmt"
	"math"
)

// Outlier is the cluster label for documents that belong to no topic.
const Outlier = -1

// Clusterer assigns a cluster label to each input vector; Outlier marks
// documents outside every cluster. Implementations must be
// deterministic for identical input.
type Clusterer interface {
	Cluster(vectors [][]float32) ([]int, error)
}

// KMeans is the default clusterer: spherical k-means over unit vectors
// with deterministic spread initialization. Clusters smaller than
// MinClusterSize dissolve into outliers.
type KMeans struct {
	MaxTopics      int // cap on k, default 12
	MinClusterSize int // default 2
	maxIterations  int
}

// NewKMeans returns a KMeans with defaults applied.
func NewKMeans(maxTopics, minClusterSize int) *KMeans {
	if maxTopics <= 0 {
		maxTopics = 12
	}
	if minClusterSize <= 0 {
		minClusterSize = 2
	}
	return &KMeans{MaxTopics: maxTopics, MinClusterSize: minClusterSize, maxIterations: 50}
}

// Cluster labels each vector. k grows with the corpus as sqrt(n/2),
// capped by MaxTopics.
func (km *KMeans) Cluster(vectors [][]float32) ([]int, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dim %d, want %d", i, len(v), dim)
		}
	}

	k := int(math.Round(math.Sqrt(float64(n) / 2)))
	if k < 1 {
		k = 1
	}
	if k > km.MaxTopics {
		k = km.MaxTopics
	}
	if k > n {
		k = n
	}

	// Deterministic initialization: centroids spread evenly across the
	// input order.
	centroids := make([][]float64, k)
	for c := 0; c < k; c++ {
		centroids[c] = toFloat64(vectors[c*n/k])
	}

	labels := make([]int, n)
	iters := km.maxIterations
	if iters <= 0 {
		iters = 50
	}
	for iter := 0; iter < iters; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestSim := 0, math.Inf(-1)
			for c := range centroids {
				sim := dot(centroids[c], v)
				if sim > bestSim {
					best, bestSim = c, sim
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centroids as normalized means.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := labels[i]
			counts[c]++
			for j, x := range v {
				sums[c][j] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			normalizeF64(sums[c])
			centroids[c] = sums[c]
		}
	}

	// Dissolve undersized clusters into outliers, then renumber the
	// survivors compactly in ascending original order.
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	remap := make(map[int]int)
	next := 0
	for c := 0; c < k; c++ {
		if counts[c] >= km.MinClusterSize {
			remap[c] = next
			next++
		}
	}
	for i, l := range labels {
		if newLabel, ok := remap[l]; ok {
			labels[i] = newLabel
		} else {
			labels[i] = Outlier
		}
	}
	return labels, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func dot(a []float64, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * float64(b[i])
	}
	return sum
}

func normalizeF64(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}
