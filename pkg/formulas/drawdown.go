package formulas

// CalculateMaxDrawdown calculates the maximum peak-to-trough decline of a
// value series, expressed as a positive fraction (0.25 = 25% loss from peak).
// Returns nil when the series is too short to measure.
func CalculateMaxDrawdown(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]

	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			drawdown := (peak - v) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return &maxDrawdown
}
