package kde

import "gonum.org/v1/gonum/floats"

// BruteForceDensities computes every query's kernel sum over all reference
// points. reference and query are flat row-major with nRef and nQuery rows of
// dims columns. With sameSet, point i skips itself.
func BruteForceDensities(reference []float64, nRef int, query []float64, nQuery, dims int,
	metric DistanceMetric, kernel Kernel, sameSet bool) []float64 {
	result := make([]float64, nQuery)
	bruteForceRows(result, reference, nRef, query, dims, metric, kernel, sameSet, 0, nQuery)
	return result
}

// bruteForceRows fills result[start:end]. Rows are independent, so disjoint
// ranges can be filled concurrently.
func bruteForceRows(result, reference []float64, nRef int, query []float64, dims int,
	metric DistanceMetric, kernel Kernel, sameSet bool, start, end int) {
	values := make([]float64, nRef)
	for i := start; i < end; i++ {
		q := query[i*dims : (i+1)*dims]
		for j := 0; j < nRef; j++ {
			if sameSet && i == j {
				values[j] = 0
				continue
			}
			values[j] = kernel.Evaluate(metric.Distance(q, reference[j*dims:(j+1)*dims]))
		}
		result[i] = floats.Sum(values)
	}
}
