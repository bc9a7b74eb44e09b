package anomaly

import (
	"math"
	"math/rand"
	"sort"
)

// isolationTree is one binary partition tree over a random feature subset.
type isolationTree struct {
	splitFeature int
	splitValue   float64
	left, right  *isolationTree
	size         int // leaf-only: number of points that reached this leaf
	isLeaf       bool
}

const maxTreeDepth = 8 // ~log2(256)

func buildTree(points [][]float64, indices []int, depth int, rng *rand.Rand) *isolationTree {
	if depth >= maxTreeDepth || len(indices) <= 1 {
		return &isolationTree{isLeaf: true, size: len(indices)}
	}

	numFeatures := len(points[indices[0]])
	feature := rng.Intn(numFeatures)

	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, idx := range indices {
		v := points[idx][feature]
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	if minV == maxV {
		return &isolationTree{isLeaf: true, size: len(indices)}
	}

	splitValue := minV + rng.Float64()*(maxV-minV)
	var leftIdx, rightIdx []int
	for _, idx := range indices {
		if points[idx][feature] < splitValue {
			leftIdx = append(leftIdx, idx)
		} else {
			rightIdx = append(rightIdx, idx)
		}
	}
	if len(leftIdx) == 0 || len(rightIdx) == 0 {
		return &isolationTree{isLeaf: true, size: len(indices)}
	}

	return &isolationTree{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         buildTree(points, leftIdx, depth+1, rng),
		right:        buildTree(points, rightIdx, depth+1, rng),
	}
}

// pathLength returns the number of edges traversed to isolate point,
// adjusted by the average path length of unsuccessful-termination BST
// search (the standard isolation-forest correction for leaf size > 1).
func pathLength(tree *isolationTree, point []float64, depth int) float64 {
	if tree.isLeaf {
		return float64(depth) + averagePathLengthCorrection(tree.size)
	}
	if point[tree.splitFeature] < tree.splitValue {
		return pathLength(tree.left, point, depth+1)
	}
	return pathLength(tree.right, point, depth+1)
}

// averagePathLengthCorrection approximates c(n), the average path length of
// an unsuccessful BST search over n points (Liu, Ting & Zhou, 2008).
func averagePathLengthCorrection(n int) float64 {
	if n <= 1 {
		return 0
	}
	nf := float64(n)
	return 2*(math.Log(nf-1)+0.5772156649) - 2*(nf-1)/nf
}

// Forest is an ensemble of isolation trees used to score anomalousness.
type Forest struct {
	trees        []*isolationTree
	sampleSize   int
	numFeatures  int
}

const (
	defaultTreeCount  = 100
	defaultSampleSize = 256
)

// NewForest fits an isolation forest over points (each a feature vector of
// identical length). rng is injected for deterministic tests.
func NewForest(points [][]float64, rng *rand.Rand) *Forest {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if len(points) == 0 {
		return &Forest{}
	}
	sampleSize := defaultSampleSize
	if sampleSize > len(points) {
		sampleSize = len(points)
	}

	forest := &Forest{sampleSize: sampleSize, numFeatures: len(points[0])}
	for t := 0; t < defaultTreeCount; t++ {
		indices := rng.Perm(len(points))[:sampleSize]
		forest.trees = append(forest.trees, buildTree(points, indices, 0, rng))
	}
	return forest
}

// Score returns the anomaly score in [0,1]; values near 1 indicate strong
// anomalies, near 0.5 indicate normal points (Liu et al. convention).
func (f *Forest) Score(point []float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, point, 0)
	}
	avgPathLength := total / float64(len(f.trees))
	c := averagePathLengthCorrection(f.sampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -avgPathLength/c)
}

// ContaminationThreshold returns the score cutoff such that approximately
// `contamination` fraction of scores exceed it. scores is left unchanged; a
// sorted copy is used.
func ContaminationThreshold(scores []float64, contamination float64) float64 {
	if len(scores) == 0 {
		return 1
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * (1 - contamination))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
