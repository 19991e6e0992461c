package validate

import (
	"math"
	"math/rand"
)

// mean returns the arithmetic mean of x. Caller guarantees len(x) > 0.
func mean(x []float64) float64 {
	total := 0.0
	for _, v := range x {
		total += v
	}
	return total / float64(len(x))
}

// autoLags is the Newey-West automatic lag rule floor(4*(n/100)^(2/9)).
func autoLags(n int) int {
	return int(math.Floor(4 * math.Pow(float64(n)/100, 2.0/9.0)))
}

// neweyWestSE estimates the standard error of the mean of x using the
// Bartlett-kernel long-run variance with the given lag count. At zero lags
// it reduces to the usual i.i.d. standard error (with 1/n scaling).
func neweyWestSE(x []float64, lags int) float64 {
	n := len(x)
	m := mean(x)
	d := make([]float64, n)
	for i, v := range x {
		d[i] = v - m
	}

	gamma0 := 0.0
	for _, v := range d {
		gamma0 += v * v
	}
	gamma0 /= float64(n)

	lrv := gamma0
	for l := 1; l <= lags && l < n; l++ {
		g := 0.0
		for i := l; i < n; i++ {
			g += d[i] * d[i-l]
		}
		g /= float64(n)
		w := 1 - float64(l)/float64(lags+1)
		lrv += 2 * w * g
	}

	// Strong negative autocorrelation can push the estimate below zero;
	// clamp so the caller sees a degenerate s.e. rather than NaN.
	if lrv < 0 {
		lrv = 0
	}
	return math.Sqrt(lrv / float64(n))
}

// studentSF returns the one-sided survival P(T >= t) for a Student-t
// distribution with df degrees of freedom, via the regularized incomplete
// beta function.
func studentSF(t, df float64) float64 {
	if math.IsInf(t, 1) {
		return 0
	}
	if math.IsInf(t, -1) {
		return 1
	}
	x := df / (df + t*t)
	p := 0.5 * regIncompleteBeta(df/2, 0.5, x)
	if t < 0 {
		p = 1 - p
	}
	return p
}

// regIncompleteBeta computes I_x(a, b) by continued fraction, using the
// symmetry transform for x past the central region.
func regIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lgab, _ := math.Lgamma(a + b)
	lga, _ := math.Lgamma(a)
	lgb, _ := math.Lgamma(b)
	bt := math.Exp(lgab - lga - lgb + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return bt * betaCF(a, b, x) / a
	}
	return 1 - bt*betaCF(b, a, 1-x)/b
}

// betaCF evaluates the incomplete beta continued fraction (modified Lentz).
func betaCF(a, b, x float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		fpmin   = 1e-300
	)

	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpmin {
		d = fpmin
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIter; m++ {
		m2 := float64(2 * m)
		fm := float64(m)

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		delta := d * c
		h *= delta

		if math.Abs(delta-1) < eps {
			break
		}
	}
	return h
}

// blockBootstrapP estimates the one-sided p-value of the observed mean
// against the zero-mean null with a circular moving-block bootstrap. The
// rng carries the run's explicit seed; block length should reflect the
// dependence horizon (lags+1 works well in practice).
func blockBootstrapP(x []float64, blockLen, samples int, rng *rand.Rand) float64 {
	n := len(x)
	if blockLen < 1 {
		blockLen = 1
	}
	if blockLen > n {
		blockLen = n
	}

	observed := mean(x)
	centered := make([]float64, n)
	for i, v := range x {
		centered[i] = v - observed
	}

	atLeast := 0
	resampled := make([]float64, 0, n+blockLen)
	for s := 0; s < samples; s++ {
		resampled = resampled[:0]
		for len(resampled) < n {
			start := rng.Intn(n)
			for j := 0; j < blockLen; j++ {
				resampled = append(resampled, centered[(start+j)%n])
			}
		}
		if mean(resampled[:n]) >= observed {
			atLeast++
		}
	}

	// +1 smoothing keeps the estimate away from an impossible exact zero.
	return float64(atLeast+1) / float64(samples+1)
}
