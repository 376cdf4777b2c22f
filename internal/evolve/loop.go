package evolve

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

type Phase string

const (
	PhaseGenerate   Phase = "generate"
	PhaseReflect    Phase = "reflect"
	PhaseRank       Phase = "rank"
	PhaseEvolve     Phase = "evolve"
	PhaseMetaReview Phase = "meta-review"
	PhaseConverged  Phase = "converged"
)

// Operator supplies the reasoning-backed steps of the loop. The loop owns
// phase sequencing, ranking, and convergence; the operator owns content.
type Operator interface {
	Generate(ctx context.Context, k int) ([]domain.Candidate, error)
	Reflect(ctx context.Context, c domain.Candidate) (string, error)
	Score(ctx context.Context, c domain.Candidate) (float64, error)
	Evolve(ctx context.Context, parents []domain.Candidate, k, generation int) ([]domain.Candidate, error)
}

type Config struct {
	PopulationSize  int     // k, candidates per generation
	SurvivorCount   int     // m, retained after ranking
	MetaReviewEvery int     // n, generations between meta reviews
	Epsilon         float64 // minimum score improvement counted as progress
	MaxGenerations  int     // hard bound independent of meta review
}

func (c Config) withDefaults() Config {
	if c.PopulationSize <= 0 {
		c.PopulationSize = 4
	}
	if c.SurvivorCount <= 0 {
		c.SurvivorCount = 2
	}
	if c.SurvivorCount > c.PopulationSize {
		c.SurvivorCount = c.PopulationSize
	}
	if c.MetaReviewEvery <= 0 {
		c.MetaReviewEvery = 2
	}
	if c.Epsilon <= 0 {
		c.Epsilon = 0.01
	}
	if c.MaxGenerations <= 0 {
		c.MaxGenerations = 6
	}
	return c
}

// Observer is notified after every ranking pass. Nil observers are fine.
type Observer func(generation int, phase Phase, survivors []domain.Candidate)

type Loop struct {
	cfg      Config
	op       Operator
	observer Observer
	logger   *log.Logger
}

func New(cfg Config, op Operator, observer Observer, logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		cfg:      cfg.withDefaults(),
		op:       op,
		observer: observer,
		logger:   logger,
	}
}

// Run drives the phase machine until convergence and returns the
// top-ranked candidate. The loop never exceeds MaxGenerations whatever
// the meta review concludes.
func (l *Loop) Run(ctx context.Context) (domain.Candidate, error) {
	var (
		population []domain.Candidate
		survivors  []domain.Candidate
		seen       = map[string]domain.Candidate{}
		bestScore  float64
		prevBest   float64
		generation int
	)

	phase := PhaseGenerate
	for phase != PhaseConverged {
		if err := ctx.Err(); err != nil {
			return domain.Candidate{}, err
		}

		switch phase {
		case PhaseGenerate:
			var err error
			population, err = l.op.Generate(ctx, l.cfg.PopulationSize)
			if err != nil {
				return domain.Candidate{}, fmt.Errorf("generate: %w", err)
			}
			population = l.sanitize(population)
			if len(population) == 0 {
				return domain.Candidate{}, fmt.Errorf("generate: empty population")
			}
			phase = PhaseReflect

		case PhaseReflect:
			if err := l.reflectAll(ctx, population); err != nil {
				return domain.Candidate{}, err
			}
			phase = PhaseRank

		case PhaseRank:
			if err := l.scoreAll(ctx, population); err != nil {
				return domain.Candidate{}, err
			}
			for _, c := range population {
				seen[c.ID] = c
			}
			sortByFitness(population)
			survivors = append([]domain.Candidate(nil), population[:min(l.cfg.SurvivorCount, len(population))]...)
			prevBest, bestScore = bestScore, *survivors[0].Score
			if l.observer != nil {
				l.observer(generation, PhaseRank, survivors)
			}
			l.logger.Printf("evolve: generation %d best %.3f survivors %d", generation, bestScore, len(survivors))

			switch {
			case generation+1 >= l.cfg.MaxGenerations:
				phase = PhaseConverged
			case (generation+1)%l.cfg.MetaReviewEvery == 0:
				phase = PhaseMetaReview
			default:
				phase = PhaseEvolve
			}

		case PhaseMetaReview:
			plateaued := generation > 0 && bestScore-prevBest < l.cfg.Epsilon
			collapsed := lineageCollapsed(survivors, seen)
			if plateaued || collapsed {
				l.logger.Printf("evolve: converged at generation %d (plateau=%t collapse=%t)", generation, plateaued, collapsed)
				phase = PhaseConverged
				break
			}
			phase = PhaseEvolve

		case PhaseEvolve:
			generation++
			next, err := l.op.Evolve(ctx, survivors, l.cfg.PopulationSize, generation)
			if err != nil {
				return domain.Candidate{}, fmt.Errorf("evolve generation %d: %w", generation, err)
			}
			next = l.sanitize(next)
			if len(next) > l.cfg.PopulationSize {
				next = next[:l.cfg.PopulationSize]
			}
			if len(next) == 0 {
				phase = PhaseConverged
				break
			}
			population = next
			phase = PhaseReflect
		}
	}

	if len(survivors) == 0 {
		return domain.Candidate{}, fmt.Errorf("evolution produced no ranked candidate")
	}
	return survivors[0], nil
}

// sanitize drops structurally unusable candidates before they reach the
// reflection or ranking phases.
func (l *Loop) sanitize(population []domain.Candidate) []domain.Candidate {
	kept := population[:0]
	for _, c := range population {
		if strings.TrimSpace(c.Content) == "" {
			l.logger.Printf("evolve: dropping blank candidate %s", c.ID)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (l *Loop) reflectAll(ctx context.Context, population []domain.Candidate) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range population {
		if population[i].Reflection != "" {
			continue
		}
		i := i
		g.Go(func() error {
			reflection, err := l.op.Reflect(gctx, population[i])
			if err != nil {
				return fmt.Errorf("reflect candidate %s: %w", population[i].ID, err)
			}
			population[i].Reflection = reflection
			return nil
		})
	}
	return g.Wait()
}

func (l *Loop) scoreAll(ctx context.Context, population []domain.Candidate) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range population {
		if population[i].Scored() {
			continue
		}
		i := i
		g.Go(func() error {
			score, err := l.op.Score(gctx, population[i])
			if err != nil {
				return fmt.Errorf("score candidate %s: %w", population[i].ID, err)
			}
			population[i].Score = &score
			return nil
		})
	}
	return g.Wait()
}

// sortByFitness orders candidates best first; ties fall back to earlier
// generation, then candidate id.
func sortByFitness(population []domain.Candidate) {
	sort.Slice(population, func(i, j int) bool {
		a, b := population[i], population[j]
		if *a.Score != *b.Score {
			return *a.Score > *b.Score
		}
		if a.Generation != b.Generation {
			return a.Generation < b.Generation
		}
		return a.ID < b.ID
	})
}

func lineageCollapsed(survivors []domain.Candidate, seen map[string]domain.Candidate) bool {
	if len(survivors) < 2 {
		return len(survivors) == 1
	}
	root := domain.LineageRoot(survivors[0], seen)
	for _, c := range survivors[1:] {
		if domain.LineageRoot(c, seen) != root {
			return false
		}
	}
	return true
}
