// Package aggregate builds registry-wide score statistics.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

// GlobalScope names the snapshot over every contract.
const GlobalScope = "global"

type Percentiles struct {
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// Snapshot summarizes the latest score of every contract in a scope.
type Snapshot struct {
	Scope         string      `json:"scope"`
	AvgScore      float64     `json:"avg_score"`
	Percentiles   Percentiles `json:"percentiles"`
	ContractCount int         `json:"contract_count"`
	ComputedAt    time.Time   `json:"computed_at"`
}

// SnapshotSet is replaced as a whole; readers never see a partial rebuild.
type SnapshotSet struct {
	Global     Snapshot            `json:"global"`
	Publishers map[string]Snapshot `json:"publishers"`
	ComputedAt time.Time           `json:"computed_at"`
}

// Scopes lists the set's snapshots, global first then publishers by id.
func (s *SnapshotSet) Scopes() []Snapshot {
	out := []Snapshot{s.Global}
	ids := make([]string, 0, len(s.Publishers))
	for id := range s.Publishers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, s.Publishers[id])
	}
	return out
}

// FromScopes rebuilds a set from persisted snapshots.
func FromScopes(snaps []Snapshot) *SnapshotSet {
	set := &SnapshotSet{Publishers: map[string]Snapshot{}}
	for _, s := range snaps {
		if s.Scope == GlobalScope {
			set.Global = s
			set.ComputedAt = s.ComputedAt
			continue
		}
		set.Publishers[s.Scope] = s
	}
	return set
}

// ContractScore is the latest score of one contract.
type ContractScore struct {
	PublisherID string
	Score       float64
	Seq         int64
}

// Fold merges results into latest, keyed by contract id. Across all
// versions of a contract the result with the highest sequence wins.
func Fold(latest map[string]ContractScore, results []scans.ResultRecord) {
	for _, r := range results {
		cur, ok := latest[r.ContractID]
		if ok && cur.Seq >= r.Seq {
			continue
		}
		latest[r.ContractID] = ContractScore{PublisherID: r.PublisherID, Score: r.Score, Seq: r.Seq}
	}
}

// Build computes the global snapshot and one per publisher.
func Build(latest map[string]ContractScore, at time.Time) *SnapshotSet {
	var all []float64
	byPublisher := map[string][]float64{}
	for _, cs := range latest {
		all = append(all, cs.Score)
		byPublisher[cs.PublisherID] = append(byPublisher[cs.PublisherID], cs.Score)
	}
	set := &SnapshotSet{
		Global:     summarize(GlobalScope, all, at),
		Publishers: make(map[string]Snapshot, len(byPublisher)),
		ComputedAt: at,
	}
	for id, scores := range byPublisher {
		set.Publishers[id] = summarize(id, scores, at)
	}
	return set
}

func summarize(scope string, scores []float64, at time.Time) Snapshot {
	s := Snapshot{Scope: scope, ContractCount: len(scores), ComputedAt: at}
	if len(scores) == 0 {
		return s
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.AvgScore = round2(sum / float64(len(sorted)))
	s.Percentiles = Percentiles{
		P10: Percentile(sorted, 10),
		P25: Percentile(sorted, 25),
		P50: Percentile(sorted, 50),
		P75: Percentile(sorted, 75),
		P90: Percentile(sorted, 90),
	}
	return s
}

// Percentile interpolates linearly between the closest ranks of sorted.
func Percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return round2(sorted[lo] + (sorted[hi]-sorted[lo])*frac)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
