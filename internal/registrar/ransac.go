package registrar

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/cuongbtq/visual-diff/internal/imaging"
)

var (
	// ErrTooFewPoints is returned when fewer than four correspondences are supplied
	ErrTooFewPoints = errors.New("at least 4 correspondences are required")

	// ErrNoConsensus is returned when no sample produced a usable model
	ErrNoConsensus = errors.New("no consensus homography")
)

const minSampleSize = 4

// RANSACParams controls the consensus estimator.
type RANSACParams struct {
	// ReprojThreshold is the maximum distance in pixels for a correspondence to count as an inlier
	ReprojThreshold float64
	// MaxIterations caps the number of random samples
	MaxIterations int
	// Confidence drives adaptive early termination, in (0,1)
	Confidence float64
	// Seed makes sampling reproducible
	Seed uint64
}

// Estimate is a fitted model with its consensus set.
type Estimate struct {
	H           imaging.Homography
	Inliers     []bool
	InlierCount int
	Iterations  int
}

// EstimateHomography fits H with dst ~ H*src while tolerating outliers.
// The result is a pure function of the inputs and params.Seed.
func EstimateHomography(src, dst []Point, params RANSACParams) (*Estimate, error) {
	n := len(src)
	if n != len(dst) {
		return nil, errors.New("source and destination point counts differ")
	}
	if n < minSampleSize {
		return nil, ErrTooFewPoints
	}

	thresh2 := params.ReprojThreshold * params.ReprojThreshold
	maxIter := params.MaxIterations
	if maxIter <= 0 {
		maxIter = 2000
	}
	confidence := params.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.995
	}

	rng := rand.New(rand.NewPCG(params.Seed, params.Seed))

	var (
		best      imaging.Homography
		bestCount int
		found     bool
		idx       [minSampleSize]int
		sSrc      = make([]Point, minSampleSize)
		sDst      = make([]Point, minSampleSize)
		iter      int
	)

	for iter = 0; iter < maxIter; iter++ {
		sampleIndices(rng, n, idx[:])
		for k, i := range idx {
			sSrc[k] = src[i]
			sDst[k] = dst[i]
		}
		if degenerateSample(sSrc) || degenerateSample(sDst) {
			continue
		}

		h, ok := solveHomography(sSrc, sDst)
		if !ok {
			continue
		}

		count := countInliers(h, src, dst, thresh2, nil)
		if count <= bestCount {
			continue
		}
		best, bestCount, found = h, count, true

		if bestCount == n {
			iter++
			break
		}
		if k := requiredIterations(float64(bestCount)/float64(n), confidence); k < maxIter {
			maxIter = k
		}
	}

	if !found || bestCount < minSampleSize {
		return nil, ErrNoConsensus
	}

	mask := make([]bool, n)
	countInliers(best, src, dst, thresh2, mask)

	// Least-squares refit on the consensus set, kept only when it does not lose support.
	var inSrc, inDst []Point
	for i, in := range mask {
		if in {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	if refined, ok := solveHomography(inSrc, inDst); ok {
		refinedMask := make([]bool, n)
		if c := countInliers(refined, src, dst, thresh2, refinedMask); c >= bestCount {
			best, bestCount, mask = refined, c, refinedMask
		}
	}

	return &Estimate{
		H:           best.Normalized(),
		Inliers:     mask,
		InlierCount: bestCount,
		Iterations:  iter,
	}, nil
}

// requiredIterations is the standard RANSAC bound for the given inlier ratio.
func requiredIterations(inlierRatio, confidence float64) int {
	p := math.Pow(inlierRatio, minSampleSize)
	if p >= 1 {
		return 1
	}
	if p <= 0 {
		return math.MaxInt32
	}
	k := math.Log(1-confidence) / math.Log(1-p)
	if math.IsNaN(k) || k > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(k))
}

func sampleIndices(rng *rand.Rand, n int, out []int) {
	for k := range out {
	draw:
		for {
			c := rng.IntN(n)
			for j := 0; j < k; j++ {
				if out[j] == c {
					continue draw
				}
			}
			out[k] = c
			break
		}
	}
}

// degenerateSample rejects samples with any three (nearly) collinear points.
func degenerateSample(p []Point) bool {
	for i := 0; i < len(p); i++ {
		for j := i + 1; j < len(p); j++ {
			for k := j + 1; k < len(p); k++ {
				cross := (p[j].X-p[i].X)*(p[k].Y-p[i].Y) - (p[j].Y-p[i].Y)*(p[k].X-p[i].X)
				if math.Abs(cross) < 1 {
					return true
				}
			}
		}
	}
	return false
}

func countInliers(h imaging.Homography, src, dst []Point, thresh2 float64, mask []bool) int {
	count := 0
	for i := range src {
		x, y, ok := h.Apply(src[i].X, src[i].Y)
		in := false
		if ok {
			dx, dy := x-dst[i].X, y-dst[i].Y
			in = dx*dx+dy*dy <= thresh2
		}
		if in {
			count++
		}
		if mask != nil {
			mask[i] = in
		}
	}
	return count
}

// normalization returns the similarity that moves the centroid to the origin
// and scales the mean distance to sqrt(2).
func normalization(pts []Point) (imaging.Homography, bool) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var d float64
	for _, p := range pts {
		d += math.Hypot(p.X-cx, p.Y-cy)
	}
	d /= float64(len(pts))
	if d < 1e-9 {
		return imaging.Homography{}, false
	}

	s := math.Sqrt2 / d
	return imaging.Homography{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}, true
}

// solveHomography fits H (h33 = 1) exactly for four points or in the least
// squares sense for more, on Hartley-normalized coordinates.
func solveHomography(src, dst []Point) (imaging.Homography, bool) {
	if len(src) < minSampleSize {
		return imaging.Homography{}, false
	}

	ts, ok := normalization(src)
	if !ok {
		return imaging.Homography{}, false
	}
	td, ok := normalization(dst)
	if !ok {
		return imaging.Homography{}, false
	}

	rows := make([][8]float64, 0, 2*len(src))
	rhs := make([]float64, 0, 2*len(src))
	for i := range src {
		x, y, _ := ts.Apply(src[i].X, src[i].Y)
		u, v, _ := td.Apply(dst[i].X, dst[i].Y)
		rows = append(rows, [8]float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		rhs = append(rhs, u)
		rows = append(rows, [8]float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		rhs = append(rhs, v)
	}

	var a [8][8]float64
	var b [8]float64
	if len(rows) == 8 {
		for i := range rows {
			a[i] = rows[i]
			b[i] = rhs[i]
		}
	} else {
		for r := range rows {
			for i := 0; i < 8; i++ {
				b[i] += rows[r][i] * rhs[r]
				for j := 0; j < 8; j++ {
					a[i][j] += rows[r][i] * rows[r][j]
				}
			}
		}
	}

	sol, ok := solve8(a, b)
	if !ok {
		return imaging.Homography{}, false
	}

	hn := imaging.Homography{sol[0], sol[1], sol[2], sol[3], sol[4], sol[5], sol[6], sol[7], 1}
	tdInv, ok := td.Inverse()
	if !ok {
		return imaging.Homography{}, false
	}

	h := tdInv.Mul(hn).Mul(ts)
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return imaging.Homography{}, false
		}
	}
	if _, ok := h.Inverse(); !ok {
		return imaging.Homography{}, false
	}
	return h.Normalized(), true
}

// solve8 is Gaussian elimination with partial pivoting.
func solve8(a [8][8]float64, b [8]float64) ([8]float64, bool) {
	const n = 8
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [8]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			if f == 0 {
				continue
			}
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	var x [8]float64
	for r := n - 1; r >= 0; r-- {
		s := b[r]
		for c := r + 1; c < n; c++ {
			s -= a[r][c] * x[c]
		}
		x[r] = s / a[r][r]
	}
	return x, true
}
