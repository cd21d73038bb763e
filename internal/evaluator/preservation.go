package evaluator

import (
	"math/bits"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PreservationBucket aggregates the sensitive combinations whose count falls
// in [Bucket, 2*Bucket)
type PreservationBucket struct {
	// Size is how many combinations fell in the bucket
	Size int `json:"size" yaml:"size"`
	// PreservationSum adds up synthetic count / sensitive count
	PreservationSum float64 `json:"preservation_sum" yaml:"preservation_sum"`
	// LengthSum adds up combination lengths
	LengthSum int `json:"length_sum" yaml:"length_sum"`
	// CombinationCountSum adds up sensitive counts
	CombinationCountSum int `json:"combination_count_sum" yaml:"combination_count_sum"`
}

// MeanPreservation returns the average synthetic / sensitive ratio
func (b *PreservationBucket) MeanPreservation() float64 {
	if b.Size == 0 {
		return 0
	}
	return b.PreservationSum / float64(b.Size)
}

// MeanLength returns the average combination length
func (b *PreservationBucket) MeanLength() float64 {
	if b.Size == 0 {
		return 0
	}
	return float64(b.LengthSum) / float64(b.Size)
}

// MeanCombinationCount returns the average sensitive count
func (b *PreservationBucket) MeanCombinationCount() float64 {
	if b.Size == 0 {
		return 0
	}
	return float64(b.CombinationCountSum) / float64(b.Size)
}

// PreservationByCount groups preservation by sensitive count. Buckets are
// keyed by the largest power of two not above the sensitive count.
type PreservationByCount struct {
	Buckets map[int]*PreservationBucket `json:"buckets" yaml:"buckets"`
	// MeanProportionalError is the mean of |synthetic - sensitive| / sensitive
	MeanProportionalError float64 `json:"mean_proportional_error" yaml:"mean_proportional_error"`
}

func newPreservationByCount() *PreservationByCount {
	return &PreservationByCount{Buckets: make(map[int]*PreservationBucket)}
}

func (p *PreservationByCount) add(length, sensitiveCount, syntheticCount int) {
	bucket := bucketIndex(sensitiveCount)
	b, ok := p.Buckets[bucket]
	if !ok {
		b = &PreservationBucket{}
		p.Buckets[bucket] = b
	}
	b.Size++
	b.PreservationSum += float64(syntheticCount) / float64(sensitiveCount)
	b.LengthSum += length
	b.CombinationCountSum += sensitiveCount
}

// SortedBucketIndexes returns bucket keys from the largest count down
func (p *PreservationByCount) SortedBucketIndexes() []int {
	indexes := make([]int, 0, len(p.Buckets))
	for index := range p.Buckets {
		indexes = append(indexes, index)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(indexes)))
	return indexes
}

// MeanPreservation returns the preservation ratio averaged over every combination
func (p *PreservationByCount) MeanPreservation() float64 {
	size := 0
	sum := 0.0
	for _, b := range p.Buckets {
		size += b.Size
		sum += b.PreservationSum
	}
	if size == 0 {
		return 0
	}
	return sum / float64(size)
}

func bucketIndex(count int) int {
	if count < 1 {
		return 0
	}
	return 1 << (bits.Len(uint(count)) - 1)
}

func meanProportionalError(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}
