package metric

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

//////
// Kernel Stein discrepancy.
//////

// steinKernel returns the Stein kernel k0(x, y) of a base kernel k, written in
// terms of pairwise quantities:
//   - sxsy: s(x) . s(y)
//   - sxr: s(x) . (x - y)
//   - syr: s(y) . (x - y)
//   - r2: |x - y|^2
//   - dim: dimension of x
type steinKernel func(sxsy, sxr, syr, r2 float64, dim int) float64

// imqKernel is the Stein kernel of k(x, y) = (c^2 + |x-y|^2)^beta.
func imqKernel(c, beta float64) steinKernel {
	return func(sxsy, sxr, syr, r2 float64, dim int) float64 {
		q := c*c + r2
		qb := math.Pow(q, beta)
		qb1 := qb / q
		qb2 := qb1 / q

		return sxsy*qb -
			2*beta*qb1*sxr +
			2*beta*qb1*syr -
			2*beta*float64(dim)*qb1 -
			4*beta*(beta-1)*qb2*r2
	}
}

// rbfKernel is the Stein kernel of k(x, y) = exp(-|x-y|^2 / (2 sigma^2)).
func rbfKernel(sigma float64) steinKernel {
	s2 := sigma * sigma

	return func(sxsy, sxr, syr, r2 float64, dim int) float64 {
		k := math.Exp(-r2 / (2 * s2))

		return k * (sxsy + sxr/s2 - syr/s2 + float64(dim)/s2 - r2/(s2*s2))
	}
}

// IMQKSD is the kernel Stein discrepancy of samples against the target whose
// score function produced grads, using the inverse multiquadric kernel
// (1 + |x-y|^2)^(-1/2).
//
// Cost is quadratic in the number of samples, wrap it with Thinned for long
// runs.
func IMQKSD(samples, grads [][]float64) float64 {
	return ksd(samples, grads, imqKernel(1, -0.5))
}

// GaussianKSD returns a kernel Stein discrepancy using a Gaussian kernel of
// width sigma.
func GaussianKSD(sigma float64) func(samples, grads [][]float64) float64 {
	kernel := rbfKernel(sigma)

	return func(samples, grads [][]float64) float64 {
		if sigma <= 0 {
			return math.Inf(1)
		}

		return ksd(samples, grads, kernel)
	}
}

// ksd evaluates sqrt(mean over all pairs of k0). All pairwise inner products
// come from three Gram matrices:
//
//	G = X X^T, SS = S S^T, A = X S^T (A[i][j] = x_i . s_j)
func ksd(samples, grads [][]float64, kernel steinKernel) float64 {
	x, ok := toDense(samples)
	if !ok {
		return math.Inf(1)
	}

	s, ok := toDense(grads)
	if !ok {
		return math.Inf(1)
	}

	n, dim := x.Dims()
	if gn, gd := s.Dims(); gn != n || gd != dim {
		return math.Inf(1)
	}

	var g, ss, a mat.Dense
	g.Mul(x, x.T())
	ss.Mul(s, s.T())
	a.Mul(x, s.T())

	var sum float64
	for i := 0; i < n; i++ {
		gii, aii := g.At(i, i), a.At(i, i)
		for j := 0; j < n; j++ {
			r2 := gii + g.At(j, j) - 2*g.At(i, j)
			if r2 < 0 {
				r2 = 0
			}

			sxr := aii - a.At(j, i)
			syr := a.At(i, j) - a.At(j, j)

			sum += kernel(ss.At(i, j), sxr, syr, r2, dim)
		}
	}

	mean := sum / float64(n*n)
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return math.Inf(1)
	}

	return math.Sqrt(math.Max(mean, 0))
}

// toDense copies rows into an n x d matrix. It reports false for an empty or
// ragged batch.
func toDense(rows [][]float64) (*mat.Dense, bool) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, false
	}

	d := len(rows[0])
	m := mat.NewDense(len(rows), d, nil)
	for i, row := range rows {
		if len(row) != d {
			return nil, false
		}
		m.SetRow(i, row)
	}

	return m, true
}
