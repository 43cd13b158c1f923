package ranking

import (
	"sort"

	"stockadvisor/internal/advisor"
)

// DefaultLimit is the length of the merged list.
const DefaultLimit = 10

// Result is the merged, ranked recommendation list plus aggregate metadata.
type Result struct {
	Recommendations []advisor.Recommendation `json:"recommendations"`
	// SourcesUsed is the sorted union of every source name referenced.
	SourcesUsed []string `json:"sources_used"`
	// Considered is every distinct symbol seen before truncation, sorted.
	Considered []string `json:"considered"`
	// Agents lists, in agent order, every agent that supplied at least one entry.
	Agents []string `json:"agents"`
	// Duplicates counts entries dropped because a higher-scored one existed.
	Duplicates int `json:"duplicates"`
}

func (r Result) Empty() bool { return len(r.Recommendations) == 0 }

// Merge flattens the agents' lists in the given order, keeps the highest
// overall_score per symbol (first seen wins ties), sorts descending and
// truncates to limit. It does not mutate its input.
func Merge(results []advisor.AgentResult, limit int) Result {
	if limit <= 0 {
		limit = DefaultLimit
	}

	best := map[string]int{}
	var (
		deduped    []advisor.Recommendation
		sourceSets [][]string
		agents     []string
		duplicates int
	)
	for _, res := range results {
		if !res.OK() || len(res.Recommendations) == 0 {
			continue
		}
		agents = append(agents, res.Agent)
		sourceSets = append(sourceSets, res.Metadata.SourcesUsed)
		for _, rec := range res.Recommendations {
			sourceSets = append(sourceSets, rec.SourceTracing, rec.TechnicalSources())
			idx, seen := best[rec.Symbol]
			if !seen {
				best[rec.Symbol] = len(deduped)
				deduped = append(deduped, rec)
				continue
			}
			duplicates++
			if rec.OverallScore > deduped[idx].OverallScore {
				deduped[idx] = rec
			}
		}
	}

	considered := make([]string, 0, len(best))
	for sym := range best {
		considered = append(considered, sym)
	}
	sort.Strings(considered)

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].OverallScore > deduped[j].OverallScore
	})
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}

	return Result{
		Recommendations: deduped,
		SourcesUsed:     advisor.SortedUnion(sourceSets...),
		Considered:      considered,
		Agents:          agents,
		Duplicates:      duplicates,
	}
}
