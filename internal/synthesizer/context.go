package synthesizer

import (
	"math/rand"
	"sort"

	"github.com/inferloop/sds/internal/aggregator"
	"github.com/inferloop/sds/internal/datablock"
)

// synthesisContext carries the state of one synthesis run. It is used by a
// single goroutine.
type synthesisContext struct {
	block           *datablock.DataBlock
	aggregates      *aggregator.AggregatedData
	resolution      int
	reportingLength int
	rng             *rand.Rand
	cache           *Cache

	// records modes only
	useRecords bool
	attrRows   map[datablock.ValueID]aggregator.RecordsSet

	// synthesized counts of single attributes
	singles map[datablock.ValueID]int
	// synthesized counts of every combination up to the reporting length,
	// tracked only while budgets are enforced
	synthesized  map[aggregator.CombinationKey]int
	oversampling *OversamplingConfig
}

func newSynthesisContext(
	block *datablock.DataBlock,
	aggregates *aggregator.AggregatedData,
	config Config,
	reportingLength int,
	rng *rand.Rand,
	cache *Cache,
) *synthesisContext {
	c := &synthesisContext{
		block:           block,
		aggregates:      aggregates,
		resolution:      config.ResolutionThreshold,
		reportingLength: reportingLength,
		rng:             rng,
		cache:           cache,
		useRecords:      config.SeedSource.UsesRecords(),
		singles:         make(map[datablock.ValueID]int),
	}

	if c.useRecords {
		attrRows := block.AttrRowsMap()
		c.attrRows = make(map[datablock.ValueID]aggregator.RecordsSet, len(attrRows))
		for v, rows := range attrRows {
			c.attrRows[v] = aggregator.RecordsSet(rows)
		}
	}
	return c
}

// enforceBudgets makes every later extension check the synthesized counts of
// the completed sub-combinations against the aggregates
func (c *synthesisContext) enforceBudgets(oversampling OversamplingConfig) {
	c.oversampling = &oversampling
	c.synthesized = make(map[aggregator.CombinationKey]int)
}

// entry returns the cached description of a partial row, computing it from
// its parent (the row without its last value) on a miss
func (c *synthesisContext) entry(partial aggregator.Combination) *cacheEntry {
	key := partial.Key()
	if e, ok := c.cache.get(key); ok {
		return e
	}

	var e *cacheEntry
	if len(partial) == 0 {
		e = c.rootEntry()
	} else {
		last := partial[len(partial)-1]
		e = c.childEntry(c.entry(partial[:len(partial)-1]), partial, last)
	}

	c.cache.add(key, e)
	return e
}

func (c *synthesisContext) rootEntry() *cacheEntry {
	counts := c.aggregates.SingleAttributeCounts()
	values := make([]datablock.ValueID, 0, len(counts))
	for v, count := range counts {
		if count >= c.resolution {
			values = append(values, v)
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	e := &cacheEntry{candidates: make([]candidate, 0, len(values))}
	for _, v := range values {
		cand := candidate{value: v, weight: counts[v]}
		if c.useRecords {
			cand.conditional = c.attrRows[v].Len()
		}
		e.candidates = append(e.candidates, cand)
	}

	if c.useRecords {
		e.records = make(aggregator.RecordsSet, len(c.block.Records))
		for i, record := range c.block.Records {
			e.records[i] = record.Index
		}
		e.stopWeight = c.stopWeight(e)
	}
	return e
}

func (c *synthesisContext) childEntry(parent *cacheEntry, partial aggregator.Combination, last datablock.ValueID) *cacheEntry {
	e := &cacheEntry{}
	if c.useRecords {
		e.records = parent.records.Intersect(c.attrRows[last])
	}

	columns := c.columnsOf(partial)
	for _, pc := range parent.candidates {
		if partial.Contains(pc.value) || columns[c.block.Values.Column(pc.value)] {
			continue
		}
		// sub-combinations without last were already checked for the parent
		weight := c.minCountWith(partial, last, pc.value, pc.weight)
		if weight < c.resolution {
			continue
		}
		cand := candidate{value: pc.value, weight: weight}
		if c.useRecords {
			cand.conditional = e.records.IntersectCount(c.attrRows[pc.value])
		}
		e.candidates = append(e.candidates, cand)
	}

	if c.useRecords {
		e.stopWeight = c.stopWeight(e)
	}
	return e
}

// stopWeight counts the records of e that hold no legal candidate
func (c *synthesisContext) stopWeight(e *cacheEntry) int {
	legal := make(map[datablock.ValueID]bool, len(e.candidates))
	for _, cand := range e.candidates {
		legal[cand.value] = true
	}

	stop := 0
	for _, index := range e.records {
		extensible := false
		for _, v := range c.block.Records[index].Values {
			if legal[v] {
				extensible = true
				break
			}
		}
		if !extensible {
			stop++
		}
	}
	return stop
}

// minCountWith returns the smallest sensitive count among the combinations
// S ∪ {last, v} where S ranges over the subsets of partial without last that
// keep the combination within the reporting length. It starts from upper and
// stops early once the result drops below the resolution.
func (c *synthesisContext) minCountWith(partial aggregator.Combination, last, v datablock.ValueID, upper int) int {
	lowest := upper
	if c.reportingLength < 2 {
		return lowest
	}

	if n := c.aggregates.Count(aggregator.NewCombination(last, v)); n < lowest {
		lowest = n
	}

	rest := partial.Without(last)
	for length := 1; length <= c.reportingLength-2 && length <= len(rest) && lowest >= c.resolution; length++ {
		aggregator.ForEachCombination(rest, length, func(sub aggregator.Combination) {
			if lowest < c.resolution {
				return
			}
			if n := c.aggregates.Count(sub.With(last).With(v)); n < lowest {
				lowest = n
			}
		})
	}
	return lowest
}

// minCount returns the smallest sensitive count among the combinations S ∪ {v}
// where S ranges over the subsets of partial that keep the combination within
// the reporting length
func (c *synthesisContext) minCount(partial aggregator.Combination, v datablock.ValueID) int {
	lowest := c.aggregates.Count(aggregator.Combination{v})
	for length := 1; length < c.reportingLength && length <= len(partial) && lowest >= c.resolution; length++ {
		aggregator.ForEachCombination(partial, length, func(sub aggregator.Combination) {
			if lowest < c.resolution {
				return
			}
			if n := c.aggregates.Count(sub.With(v)); n < lowest {
				lowest = n
			}
		})
	}
	return lowest
}

func (c *synthesisContext) columnsOf(partial aggregator.Combination) map[int]bool {
	columns := make(map[int]bool, len(partial))
	for _, v := range partial {
		columns[c.block.Values.Column(v)] = true
	}
	return columns
}

// track adds a finished row to the synthesized counts
func (c *synthesisContext) track(row aggregator.Combination) {
	for _, v := range row {
		c.singles[v]++
	}
	if c.synthesized == nil {
		return
	}
	for length := 1; length <= c.reportingLength && length <= len(row); length++ {
		aggregator.ForEachCombination(row, length, func(sub aggregator.Combination) {
			c.synthesized[sub.Key()]++
		})
	}
}

// targets maps every single attribute to its sensitive count rounded down to
// a multiple of the resolution
func (c *synthesisContext) targets() map[datablock.ValueID]int {
	counts := c.aggregates.SingleAttributeCounts()
	targets := make(map[datablock.ValueID]int, len(counts))
	for v, count := range counts {
		targets[v] = (count / c.resolution) * c.resolution
	}
	return targets
}

// sampleIndex picks an index with probability proportional to its weight, or
// -1 when every weight is zero
func sampleIndex(rng *rand.Rand, weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return -1
	}

	r := rng.Intn(total)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if r < w {
			return i
		}
		r -= w
	}
	return -1
}

func sortedValues(m map[datablock.ValueID]int) []datablock.ValueID {
	values := make([]datablock.ValueID, 0, len(m))
	for v := range m {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values
}
