package reporting

import (
	"kycrisk/dataset"
	"kycrisk/survey"
)

// counter tallies occurrences per sector and bucket
type counter struct {
	counts map[string]map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]map[string]int)}
}

// touch registers a sector so it appears with zero counts
func (c *counter) touch(sector string) map[string]int {
	buckets, ok := c.counts[sector]
	if !ok {
		buckets = make(map[string]int)
		c.counts[sector] = buckets
	}
	return buckets
}

func (c *counter) add(sector, bucket string) {
	c.touch(sector)[bucket]++
}

func (c *counter) get(sector, bucket string) int {
	return c.counts[sector][bucket]
}

func (c *counter) sectors() []string {
	set := make(map[string]bool, len(c.counts))
	for s := range c.counts {
		set[s] = true
	}
	return sortedKeys(set)
}

// table renders one row per sector with one count column per bucket
func (c *counter) table(buckets ...string) *dataset.Table {
	out := dataset.MustNew(append([]string{survey.ColSector}, buckets...)...)
	for _, sector := range c.sectors() {
		row := []dataset.Value{dataset.String(sector)}
		for _, b := range buckets {
			row = append(row, count(c.get(sector, b)))
		}
		_ = out.Append(row...)
	}
	return out
}

// distinctCounter counts distinct clients per sector
type distinctCounter struct {
	ids map[string]map[string]bool
}

func newDistinctCounter() *distinctCounter {
	return &distinctCounter{ids: make(map[string]map[string]bool)}
}

func (d *distinctCounter) add(sector, id string) {
	set, ok := d.ids[sector]
	if !ok {
		set = make(map[string]bool)
		d.ids[sector] = set
	}
	set[id] = true
}

func (d *distinctCounter) get(sector string) int {
	return len(d.ids[sector])
}

func (d *distinctCounter) sectorSet() map[string]bool {
	set := make(map[string]bool, len(d.ids))
	for s := range d.ids {
		set[s] = true
	}
	return set
}
