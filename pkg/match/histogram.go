package match

import "sort"

// StatusCount is one bar of the status code histogram.
type StatusCount struct {
	Code  int `json:"code" yaml:"code"`
	Count int `json:"count" yaml:"count"`
}

// StatusHistogram counts status codes, most frequent first, ties by code.
func StatusHistogram(codes []int) []StatusCount {
	counts := make(map[int]int)
	for _, c := range codes {
		counts[c]++
	}
	out := make([]StatusCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, StatusCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	return out
}
