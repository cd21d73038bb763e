package aggregator

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/inferloop/sds/internal/datablock"
)

const valueIDSize = 4

// Combination is an unordered set of attribute values, stored sorted
type Combination []datablock.ValueID

// CombinationKey is the canonical, comparable encoding of a Combination.
// Equal sets always produce equal keys.
type CombinationKey string

// NewCombination creates a combination from values in any order
func NewCombination(values ...datablock.ValueID) Combination {
	return Combination(datablock.SortValues(values))
}

// Key encodes the combination. The combination must already be sorted.
func (c Combination) Key() CombinationKey {
	buf := make([]byte, len(c)*valueIDSize)
	for i, v := range c {
		binary.BigEndian.PutUint32(buf[i*valueIDSize:], uint32(v))
	}
	return CombinationKey(buf)
}

// Len returns the number of values in the combination
func (c Combination) Len() int {
	return len(c)
}

// With returns a new combination holding c plus v
func (c Combination) With(v datablock.ValueID) Combination {
	i := sort.Search(len(c), func(i int) bool { return c[i] >= v })
	if i < len(c) && c[i] == v {
		return append(Combination(nil), c...)
	}
	out := make(Combination, 0, len(c)+1)
	out = append(out, c[:i]...)
	out = append(out, v)
	return append(out, c[i:]...)
}

// Without returns a new combination holding c minus v
func (c Combination) Without(v datablock.ValueID) Combination {
	out := make(Combination, 0, len(c))
	for _, x := range c {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Contains reports whether v belongs to the combination
func (c Combination) Contains(v datablock.ValueID) bool {
	i := sort.Search(len(c), func(i int) bool { return c[i] >= v })
	return i < len(c) && c[i] == v
}

// Format renders the combination as "header:value" items joined by delimiter,
// ordered by column then value
func (c Combination) Format(block *datablock.DataBlock, delimiter string) string {
	values := make([]datablock.AttributeValue, len(c))
	for i, id := range c {
		values[i] = block.Values.Value(id)
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].ColumnIndex != values[j].ColumnIndex {
			return values[i].ColumnIndex < values[j].ColumnIndex
		}
		return values[i].Value < values[j].Value
	})

	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.Format(block.Headers)
	}
	return strings.Join(parts, delimiter)
}

// Len returns the number of values encoded in the key
func (k CombinationKey) Len() int {
	return len(k) / valueIDSize
}

// Combination decodes the key
func (k CombinationKey) Combination() Combination {
	c := make(Combination, k.Len())
	for i := range c {
		c[i] = datablock.ValueID(binary.BigEndian.Uint32([]byte(k[i*valueIDSize : (i+1)*valueIDSize])))
	}
	return c
}

// ForEachCombination calls fn with every subset of values of exactly size
// length, in lexicographic index order. values must be sorted, which keeps
// every emitted subset sorted too. The slice passed to fn is reused between
// calls and must be copied if retained.
func ForEachCombination(values []datablock.ValueID, length int, fn func(Combination)) {
	n := len(values)
	if length <= 0 || length > n {
		return
	}

	gen := combin.NewCombinationGenerator(n, length)
	indices := make([]int, length)
	buf := make(Combination, length)
	for gen.Next() {
		for i, idx := range gen.Combination(indices) {
			buf[i] = values[idx]
		}
		fn(buf)
	}
}

// maxLogBinomial keeps combin.Binomial clear of int overflow, including its
// intermediate products
var maxLogBinomial = math.Log(float64(math.MaxInt))

// Binomial returns C(n, k), saturating at the maximum int
func Binomial(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	if combin.LogGeneralizedBinomial(float64(n), float64(k))+math.Log(float64(n)+1) >= maxLogBinomial {
		return math.MaxInt
	}
	return combin.Binomial(n, k)
}
