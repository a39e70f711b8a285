package tracepath

import (
	"slices"
)

// Record pairs a path with a steps metric. Whether Steps is cumulative or
// exclusive depends on which side of inference the record sits.
type Record struct {
	Path  Path
	Steps int64
}

// Key returns the record's path key.
func (r Record) Key() string {
	return r.Path.Key()
}

// ParseRecord builds a Record from a raw key.
func ParseRecord(key string, steps int64) (Record, error) {
	p, err := Parse(key)
	if err != nil {
		return Record{}, err
	}
	return Record{Path: p, Steps: steps}, nil
}

// Sort orders records by path in place. The sort is stable so records with
// equal paths keep their relative order.
func Sort(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		return Compare(a.Path, b.Path)
	})
}

// IsSorted reports whether records are in path order.
func IsSorted(records []Record) bool {
	return slices.IsSortedFunc(records, func(a, b Record) int {
		return Compare(a.Path, b.Path)
	})
}

// Keys returns the path keys of records, in order.
func Keys(records []Record) []string {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key()
	}
	return keys
}
