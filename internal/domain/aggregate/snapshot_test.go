package aggregate_test

import (
	"testing"
	"time"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/aggregate"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

func TestPercentile(t *testing.T) {
	t.Parallel()

	sorted := []float64{10, 20, 30, 40, 50}
	cases := map[float64]float64{0: 10, 25: 20, 50: 30, 90: 46, 100: 50}
	for p, want := range cases {
		if got := aggregate.Percentile(sorted, p); got != want {
			t.Fatalf("Percentile(%v) = %v, want %v", p, got, want)
		}
	}
	if got := aggregate.Percentile(nil, 50); got != 0 {
		t.Fatalf("empty input should give 0, got %v", got)
	}
}

func TestFoldKeepsLatestPerContract(t *testing.T) {
	t.Parallel()

	latest := map[string]aggregate.ContractScore{}
	aggregate.Fold(latest, []scans.ResultRecord{
		{Seq: 1, ContractID: "a", PublisherID: "p1", Version: "1", Score: 40},
		{Seq: 3, ContractID: "a", PublisherID: "p1", Version: "2", Score: 90},
		{Seq: 2, ContractID: "b", PublisherID: "p2", Version: "1", Score: 70},
	})
	// an older record arriving late must not win
	aggregate.Fold(latest, []scans.ResultRecord{{Seq: 2, ContractID: "a", PublisherID: "p1", Score: 10}})

	if got := latest["a"].Score; got != 90 {
		t.Fatalf("expected contract a at 90, got %v", got)
	}
	set := aggregate.Build(latest, time.Unix(100, 0))
	if set.Global.ContractCount != 2 || set.Global.AvgScore != 80 {
		t.Fatalf("unexpected global snapshot %+v", set.Global)
	}
	if p := set.Publishers["p2"]; p.ContractCount != 1 || p.Percentiles.P50 != 70 {
		t.Fatalf("unexpected publisher snapshot %+v", p)
	}
	scopes := set.Scopes()
	if len(scopes) != 3 || scopes[0].Scope != aggregate.GlobalScope || scopes[1].Scope != "p1" {
		t.Fatalf("unexpected scope order %+v", scopes)
	}
	rebuilt := aggregate.FromScopes(scopes)
	if rebuilt.Global != set.Global || len(rebuilt.Publishers) != 2 {
		t.Fatalf("FromScopes lost data: %+v", rebuilt)
	}
}
