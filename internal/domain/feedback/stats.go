package feedback

// Stats aggregates stored feedback. Maps are never nil.
type Stats struct {
	Total         int            `json:"total"`
	AverageRating float64        `json:"averageRating"`
	ByDomain      map[string]int `json:"byDomain"`
	ByRating      map[int]int    `json:"byRating"`
}

// ComputeStats aggregates records. The average is the arithmetic mean of the
// stored 0-100 ratings, 0 when there are no records.
func ComputeStats(records []Record) Stats {
	s := Stats{
		Total:    len(records),
		ByDomain: make(map[string]int),
		ByRating: make(map[int]int),
	}
	if len(records) == 0 {
		return s
	}
	sum := 0
	for i := range records {
		sum += records[i].Rating
		s.ByDomain[records[i].Domain]++
		s.ByRating[records[i].Rating]++
	}
	s.AverageRating = float64(sum) / float64(len(records))
	return s
}
