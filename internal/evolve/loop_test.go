package evolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

// fakeOperator hands out deterministic candidates and scores. Scores for
// generation 0 come from seeds; later generations score by the scoreFn.
type fakeOperator struct {
	seeds      []float64
	scoreFn    func(c domain.Candidate) float64
	evolved    int
	rootless   bool
	blankFirst bool
}

func (f *fakeOperator) Generate(_ context.Context, k int) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, 0, k)
	for i := 0; i < k; i++ {
		content := fmt.Sprintf("proposal %d", i)
		if i == 0 && f.blankFirst {
			content = "  "
		}
		out = append(out, domain.Candidate{
			ID:         fmt.Sprintf("cand-0-%d", i),
			Content:    content,
			Generation: 0,
		})
	}
	return out, nil
}

func (f *fakeOperator) Reflect(_ context.Context, c domain.Candidate) (string, error) {
	return "critique of " + c.ID, nil
}

func (f *fakeOperator) Score(_ context.Context, c domain.Candidate) (float64, error) {
	if c.Generation == 0 {
		var idx int
		fmt.Sscanf(c.ID, "cand-0-%d", &idx)
		if idx < len(f.seeds) {
			return f.seeds[idx], nil
		}
	}
	if f.scoreFn != nil {
		return f.scoreFn(c), nil
	}
	return 0.5, nil
}

func (f *fakeOperator) Evolve(_ context.Context, parents []domain.Candidate, k, generation int) ([]domain.Candidate, error) {
	f.evolved++
	out := make([]domain.Candidate, 0, k)
	for i := 0; i < k; i++ {
		parent := parents[i%len(parents)]
		lineage := parent.ID
		if f.rootless {
			lineage = parents[0].ID
		}
		out = append(out, domain.Candidate{
			ID:         fmt.Sprintf("cand-%d-%d", generation, i),
			Content:    "refined " + parent.Content,
			Lineage:    lineage,
			Generation: generation,
		})
	}
	return out, nil
}

func TestRankRetainsTopSurvivors(t *testing.T) {
	op := &fakeOperator{seeds: []float64{0.9, 0.7, 0.5, 0.3}}
	var firstRank []domain.Candidate
	loop := New(Config{PopulationSize: 4, SurvivorCount: 2, MaxGenerations: 1}, op,
		func(gen int, _ Phase, survivors []domain.Candidate) {
			if gen == 0 && firstRank == nil {
				firstRank = survivors
			}
		}, nil)

	best, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(firstRank) != 2 {
		t.Fatalf("survivors = %d, want 2", len(firstRank))
	}
	if *firstRank[0].Score != 0.9 || *firstRank[1].Score != 0.7 {
		t.Fatalf("survivor scores = %v, %v", *firstRank[0].Score, *firstRank[1].Score)
	}
	if *best.Score != 0.9 {
		t.Fatalf("best score = %v, want 0.9", *best.Score)
	}
}

func TestEvolveRecordsLineage(t *testing.T) {
	op := &fakeOperator{
		seeds: []float64{0.9, 0.7, 0.5, 0.3},
		scoreFn: func(c domain.Candidate) float64 {
			return 0.91 + float64(c.Generation)/10
		},
	}
	var gen1 []domain.Candidate
	loop := New(Config{PopulationSize: 4, SurvivorCount: 2, MetaReviewEvery: 10, MaxGenerations: 2}, op,
		func(gen int, _ Phase, survivors []domain.Candidate) {
			if gen == 1 {
				gen1 = survivors
			}
		}, nil)

	if _, err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if op.evolved != 1 {
		t.Fatalf("evolve called %d times, want 1", op.evolved)
	}
	parents := map[string]bool{"cand-0-0": true, "cand-0-1": true}
	for _, c := range gen1 {
		if !parents[c.Lineage] {
			t.Fatalf("candidate %s has lineage %q, want one of the two retained parents", c.ID, c.Lineage)
		}
		if c.Generation != 1 {
			t.Fatalf("candidate %s generation = %d", c.ID, c.Generation)
		}
	}
}

func TestLoopIsBoundedByMaxGenerations(t *testing.T) {
	// Scores keep improving so neither plateau nor collapse would ever
	// stop the loop on its own.
	op := &fakeOperator{
		seeds: []float64{0.1, 0.2, 0.3, 0.4},
		scoreFn: func(c domain.Candidate) float64 {
			return float64(c.Generation) + 1
		},
	}
	maxGen := 0
	loop := New(Config{PopulationSize: 4, SurvivorCount: 2, MetaReviewEvery: 100, MaxGenerations: 3}, op,
		func(gen int, _ Phase, _ []domain.Candidate) {
			if gen > maxGen {
				maxGen = gen
			}
		}, nil)

	if _, err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if maxGen >= 3 {
		t.Fatalf("reached generation %d, bound is 3", maxGen)
	}
	if op.evolved != 2 {
		t.Fatalf("evolve called %d times, want 2", op.evolved)
	}
}

func TestMetaReviewStopsOnPlateau(t *testing.T) {
	op := &fakeOperator{
		seeds:   []float64{0.8, 0.6, 0.4, 0.2},
		scoreFn: func(domain.Candidate) float64 { return 0.8 },
	}
	loop := New(Config{PopulationSize: 4, SurvivorCount: 2, MetaReviewEvery: 2, Epsilon: 0.05, MaxGenerations: 20}, op, nil, nil)

	best, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if op.evolved > 2 {
		t.Fatalf("evolve called %d times after plateau", op.evolved)
	}
	if *best.Score != 0.8 {
		t.Fatalf("best = %v", *best.Score)
	}
}

func TestMetaReviewStopsOnLineageCollapse(t *testing.T) {
	op := &fakeOperator{
		seeds:    []float64{0.5, 0.4, 0.3, 0.2},
		rootless: true,
		scoreFn: func(c domain.Candidate) float64 {
			// Keep improving past epsilon so only collapse can stop it
			// before the hard bound.
			return float64(c.Generation) + 1
		},
	}
	loop := New(Config{PopulationSize: 4, SurvivorCount: 2, MetaReviewEvery: 2, Epsilon: 0.01, MaxGenerations: 50}, op, nil, nil)

	if _, err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if op.evolved >= 49 {
		t.Fatal("loop did not stop on lineage collapse")
	}
}

func TestBlankCandidatesNeverReachRanking(t *testing.T) {
	op := &fakeOperator{seeds: []float64{0.9, 0.8, 0.7, 0.6}, blankFirst: true}
	var ranked []domain.Candidate
	loop := New(Config{PopulationSize: 4, SurvivorCount: 4, MaxGenerations: 1}, op,
		func(_ int, _ Phase, survivors []domain.Candidate) {
			ranked = survivors
		}, nil)

	best, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("survivors = %d, want 3 after dropping the blank candidate", len(ranked))
	}
	for _, c := range ranked {
		if c.ID == "cand-0-0" {
			t.Fatal("blank candidate survived ranking")
		}
	}
	if best.ID != "cand-0-1" {
		t.Fatalf("best = %s, want cand-0-1", best.ID)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	op := &fakeOperator{seeds: []float64{0.5}}
	loop := New(Config{}, op, nil, nil)
	if _, err := loop.Run(ctx); err == nil {
		t.Fatal("cancelled run succeeded")
	}
}
