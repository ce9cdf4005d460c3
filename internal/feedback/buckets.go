package feedback

// Quality bands used in feedback distributions.
const (
	BucketExcellent = "excellent"
	BucketGood      = "good"
	BucketAverage   = "average"
	BucketPoor      = "poor"
	BucketBad       = "bad"
)

// Bucket maps a score to its band: excellent >= 4.5, good [3.5, 4.5),
// average [2.5, 3.5), poor [1.0, 2.5), bad < 1.0.
func Bucket(score float64) string {
	switch {
	case score >= 4.5:
		return BucketExcellent
	case score >= 3.5:
		return BucketGood
	case score >= 2.5:
		return BucketAverage
	case score >= 1.0:
		return BucketPoor
	default:
		return BucketBad
	}
}
