package utils

// MinFloat returns the smaller of two floats.
func MinFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
