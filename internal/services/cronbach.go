package services

// CronbachAlpha measures how consistently respondents rated the pillars.
// rows is shaped [respondents][pillars]; ragged input yields 0. Population
// variance is used, so perfectly correlated pillars give exactly 1.
func CronbachAlpha(rows [][]float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	k := len(rows[0])
	if k < 2 {
		return 0
	}
	columns := make([][]float64, k)
	totals := make([]float64, 0, len(rows))
	for _, row := range rows {
		if len(row) != k {
			return 0
		}
		var sum float64
		for j, v := range row {
			columns[j] = append(columns[j], v)
			sum += v
		}
		totals = append(totals, sum)
	}
	totalVar := populationVariance(totals)
	if totalVar == 0 {
		return 0
	}
	var itemVars float64
	for _, col := range columns {
		itemVars += populationVariance(col)
	}
	kf := float64(k)
	alpha := kf / (kf - 1) * (1 - itemVars/totalVar)
	switch {
	case alpha < 0:
		return 0
	case alpha > 1:
		return 1
	}
	return alpha
}

func populationVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(len(xs))
}
