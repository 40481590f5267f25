package trace

import "sort"

// MergeObservations flattens the observations of all traces into a single
// list, removing duplicate observation ids and ordering by start time. An
// observation without a start time sorts by its own timestamp; one with
// neither sorts first. The merge is idempotent: merging already-merged data
// yields the same list.
func MergeObservations(traces []Trace) []Observation {
	seen := make(map[string]struct{})
	merged := make([]Observation, 0)

	for _, t := range traces {
		for _, obs := range t.Observations {
			if _, dup := seen[obs.ID]; dup {
				continue
			}
			seen[obs.ID] = struct{}{}
			merged = append(merged, obs)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return sortKey(merged[i]) < sortKey(merged[j])
	})
	return merged
}

func sortKey(obs Observation) int64 {
	if obs.StartTime != nil {
		return obs.StartTime.UnixMilli()
	}
	if obs.Timestamp != nil {
		return obs.Timestamp.UnixMilli()
	}
	return 0
}
