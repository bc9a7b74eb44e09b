package baseline

import "math"

// fitOLS solves the ordinary-least-squares normal equations
// (XᵀX)β = Xᵀy via Gaussian elimination with partial pivoting. X rows are
// feature vectors; an intercept column of 1s is prepended internally.
// Returns (intercept, coefficients).
func fitOLS(xRows [][]float64, y []float64) (intercept float64, coeffs []float64, err error) {
	n := len(xRows)
	if n == 0 {
		return 0, nil, errInsufficientRows
	}
	p := len(xRows[0]) + 1 // +1 for intercept

	// Build XᵀX (p×p) and Xᵀy (p).
	xtx := make([][]float64, p)
	for i := range xtx {
		xtx[i] = make([]float64, p)
	}
	xty := make([]float64, p)

	row := make([]float64, p)
	for i := 0; i < n; i++ {
		row[0] = 1
		copy(row[1:], xRows[i])
		for a := 0; a < p; a++ {
			xty[a] += row[a] * y[i]
			for b := 0; b < p; b++ {
				xtx[a][b] += row[a] * row[b]
			}
		}
	}

	beta, err := solveLinearSystem(xtx, xty)
	if err != nil {
		return 0, nil, err
	}
	return beta[0], beta[1:], nil
}

// solveLinearSystem solves Ax=b via Gaussian elimination with partial
// pivoting. A is modified in place (a local copy is taken by the caller's
// construction above since xtx/xty are freshly built per call).
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		maxAbs := math.Abs(a[col][col])
		for r := col + 1; r < n; r++ {
			if abs := math.Abs(a[r][col]); abs > maxAbs {
				pivot, maxAbs = r, abs
			}
		}
		if maxAbs < 1e-12 {
			return nil, errSingularMatrix
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := b[i]
		for j := i + 1; j < n; j++ {
			sum -= a[i][j] * x[j]
		}
		x[i] = sum / a[i][i]
	}
	return x, nil
}

// pearsonCorrelation returns the sample Pearson correlation coefficient
// between x and y, or 0 if either series has zero variance.
func pearsonCorrelation(x, y []float64) float64 {
	n := float64(len(x))
	if n == 0 {
		return 0
	}
	var sumX, sumY, sumXY, sumX2, sumY2 float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumX2 += x[i] * x[i]
		sumY2 += y[i] * y[i]
	}
	numerator := n*sumXY - sumX*sumY
	denominator := math.Sqrt((n*sumX2 - sumX*sumX) * (n*sumY2 - sumY*sumY))
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// rSquared computes the coefficient of determination given actual and
// predicted series.
func rSquared(actual, predicted []float64) float64 {
	mean := 0.0
	for _, v := range actual {
		mean += v
	}
	mean /= float64(len(actual))

	var ssRes, ssTot float64
	for i := range actual {
		ssRes += (actual[i] - predicted[i]) * (actual[i] - predicted[i])
		ssTot += (actual[i] - mean) * (actual[i] - mean)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

func rmse(actual, predicted []float64) float64 {
	var sum float64
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(actual)))
}

func mae(actual, predicted []float64) float64 {
	var sum float64
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual))
}

// residualStdDev computes the (population) standard deviation of
// actual-predicted residuals, used as the σ for deviation severity
// classification.
func residualStdDev(actual, predicted []float64) float64 {
	var mean float64
	residuals := make([]float64, len(actual))
	for i := range actual {
		residuals[i] = actual[i] - predicted[i]
		mean += residuals[i]
	}
	mean /= float64(len(residuals))

	var variance float64
	for _, r := range residuals {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(residuals))
	return math.Sqrt(variance)
}
