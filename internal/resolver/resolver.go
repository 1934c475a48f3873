// Package resolver turns fuzzy human references into staff emails and project tags.
// Lookups never fail: anything that cannot be resolved is reported as not found and
// the caller decides what to do with the task.
package resolver

import (
	"context"
	"log"

	"taskdesk/internal/domain"
	"taskdesk/internal/store"
)

type Strategy string

const (
	StrategyExact      Strategy = "exact"
	StrategySubstring  Strategy = "substring"
	StrategyFirstToken Strategy = "first_token"
	StrategyLastToken  Strategy = "last_token"
	StrategySimilarity Strategy = "similarity"
	StrategyDeletion   Strategy = "deletion_variant"
	StrategyTag        Strategy = "tag"
	StrategyWord       Strategy = "word"
)

// DefaultThreshold is the similarity a candidate must exceed.
const DefaultThreshold = 0.7

type Match struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Strategy Strategy `json:"strategy"`
	Score    float64  `json:"score"`
}

type Options struct {
	Threshold        float64
	DeletionVariants bool
}

func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, DeletionVariants: true}
}

func (o Options) threshold() float64 {
	if o.Threshold <= 0 {
		return DefaultThreshold
	}
	return o.Threshold
}

// Resolver resolves against the staff and project collections.
type Resolver struct {
	Store   store.Store
	Options Options
	Logger  *log.Logger
}

func (r Resolver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func (r Resolver) ResolveStaff(ctx context.Context, query string) (Match, bool) {
	rows, err := r.Store.Find(ctx, store.Staff, nil)
	if err != nil {
		r.logger().Printf("resolver: load staff: %v", err)
		return Match{}, false
	}
	cands := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		cands = append(cands, Candidate{ID: row[domain.FieldEmail], Name: row[domain.FieldName]})
	}
	return MatchStaff(query, cands, r.Options)
}

func (r Resolver) ResolveProject(ctx context.Context, text string) (Match, bool) {
	rows, err := r.Store.Find(ctx, store.Projects, nil)
	if err != nil {
		r.logger().Printf("resolver: load projects: %v", err)
		return Match{}, false
	}
	cands := make([]ProjectCandidate, 0, len(rows))
	for _, row := range rows {
		cands = append(cands, ProjectCandidate{Tag: row[domain.FieldProjectTag], Name: row[domain.FieldProjectName]})
	}
	return MatchProject(text, cands)
}
