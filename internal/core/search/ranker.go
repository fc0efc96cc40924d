package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/llm"
)

// MaxHops bounds the neighbourhood expansion used for the proximity signal.
const MaxHops = 2

// ReachPerCandidate scales the candidate pool into the most entities the
// proximity walk may reach.
const ReachPerCandidate = 20

type Weights struct {
	Lexical   float64
	Semantic  float64
	Proximity float64
}

type Query struct {
	Text              string
	Limit             int
	IncludeHistorical bool
	// AsOf restricts results to facts valid at that instant. It implies
	// IncludeHistorical.
	AsOf *time.Time
}

// Ranker scores facts by token overlap, embedding similarity and graph
// distance from the entities the query matched directly.
type Ranker struct {
	Weights        Weights
	DefaultLimit   int
	CandidatePool  int
	SeedSimilarity float64
	Embedder       llm.EmbedderClient
	log            *zap.Logger
}

func NewRanker(cfg config.SearchConfig, embedder llm.EmbedderClient, log *zap.Logger) *Ranker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ranker{
		Weights: Weights{
			Lexical:   cfg.LexicalWeight,
			Semantic:  cfg.SemanticWeight,
			Proximity: cfg.ProximityWeight,
		},
		DefaultLimit:   cfg.DefaultLimit,
		CandidatePool:  cfg.CandidatePool,
		SeedSimilarity: cfg.SeedSimilarity,
		Embedder:       embedder,
		log:            log,
	}
}

func (r *Ranker) Search(ctx context.Context, tx driver.ReadTx, q Query) ([]model.RankedFact, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, kgerr.New(kgerr.CodeSearchQueryInvalid, "query is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = r.DefaultLimit
	}
	if limit > r.CandidatePool {
		limit = r.CandidatePool
	}

	tokens := common.TokenSet(text)
	weights := r.Weights
	qvec, err := r.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if qvec == nil {
		weights.Semantic, weights.Proximity = 0, 0
		if weights.Lexical == 0 {
			weights.Lexical = 1
		}
	}

	filter := driver.FactFilter{
		IncludeHistorical: q.IncludeHistorical || q.AsOf != nil,
		Limit:             r.CandidatePool,
	}

	lexIDs, err := tx.LexicalFacts(ctx, tokens, filter)
	if err != nil {
		return nil, err
	}
	var semIDs []string
	if qvec != nil {
		if semIDs, err = tx.SimilarFacts(ctx, qvec, filter); err != nil {
			return nil, err
		}
	}

	facts, err := tx.GetFacts(ctx, union(lexIDs, semIDs))
	if err != nil {
		return nil, err
	}

	var hops map[string]int
	if weights.Proximity > 0 {
		hops, err = r.neighbourhood(ctx, tx, tokens, qvec, facts, lexIDs)
		if err != nil {
			return nil, err
		}
		if len(hops) > 0 {
			touching, err := tx.FactsTouching(ctx, keys(hops), filter)
			if err != nil {
				return nil, err
			}
			extra, err := tx.GetFacts(ctx, missing(touching, facts))
			if err != nil {
				return nil, err
			}
			facts = append(facts, extra...)
		}
	}

	queryTokens := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		queryTokens[t] = true
	}

	results := make([]model.RankedFact, 0, len(facts))
	for _, f := range facts {
		switch {
		case q.AsOf != nil && !f.ValidAtTime(*q.AsOf):
			continue
		case q.AsOf == nil && !q.IncludeHistorical && !f.IsLive():
			continue
		}

		rf := model.RankedFact{
			UUID:       f.UUID,
			Name:       f.Name,
			FactText:   f.Fact,
			SourceName: f.SourceName,
			TargetName: f.TargetName,
			ValidAt:    f.ValidAt,
			InvalidAt:  f.InvalidAt,
		}
		rf.LexicalScore = lexicalScore(queryTokens, f)
		if qvec != nil {
			rf.SemanticScore = max(0, common.Cosine(qvec, f.FactEmbedding))
		}
		rf.ProximityScore = proximityScore(hops, f)
		rf.Score = weights.Lexical*rf.LexicalScore + weights.Semantic*rf.SemanticScore + weights.Proximity*rf.ProximityScore
		if rf.Score <= 0 {
			continue
		}
		results = append(results, rf)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.ValidAt.Equal(b.ValidAt) {
			return a.ValidAt.After(b.ValidAt)
		}
		return a.UUID < b.UUID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// embedQuery returns nil when semantic ranking is unavailable. Only a done
// context is an error; embedder failures degrade to lexical ranking.
func (r *Ranker) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.Embedder == nil {
		return nil, nil
	}
	vec, err := r.Embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn("query embedding failed, falling back to lexical ranking", zap.Error(err))
		return nil, nil
	}
	if len(vec) == 0 || common.IsZeroVector(vec) {
		r.log.Warn("query embedding is empty, falling back to lexical ranking")
		return nil, nil
	}
	return vec, nil
}

// neighbourhood seeds from entities the query names, endpoints of lexically
// matched facts and entities whose name embedding is close to the query.
func (r *Ranker) neighbourhood(ctx context.Context, tx driver.ReadTx, tokens []string, qvec []float32, facts []model.EntityEdge, lexIDs []string) (map[string]int, error) {
	seeds, err := tx.LexicalEntities(ctx, tokens, r.CandidatePool)
	if err != nil {
		return nil, err
	}

	lexical := make(map[string]bool, len(lexIDs))
	for _, id := range lexIDs {
		lexical[id] = true
	}
	for _, f := range facts {
		if lexical[f.UUID] {
			seeds = append(seeds, f.SourceUUID, f.TargetUUID)
		}
	}

	if qvec != nil {
		similar, err := tx.SimilarEntities(ctx, qvec, r.SeedSimilarity, r.CandidatePool)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, similar...)
	}
	if len(seeds) == 0 {
		return nil, nil
	}
	reach := r.CandidatePool * ReachPerCandidate
	hops, err := tx.Neighborhood(ctx, seeds, MaxHops, reach)
	if err != nil {
		return nil, err
	}
	if len(hops) >= reach {
		r.log.Debug("proximity walk truncated", zap.Int("reach", reach), zap.Int("seeds", len(seeds)))
	}
	return hops, nil
}

// lexicalScore is the share of query tokens present in the fact.
func lexicalScore(query map[string]bool, f model.EntityEdge) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for _, tok := range common.TokenSet(f.Fact, f.SourceName, f.TargetName, f.Type) {
		if query[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func proximityScore(hops map[string]int, f model.EntityEdge) float64 {
	best := -1
	for _, id := range []string{f.SourceUUID, f.TargetUUID} {
		if h, ok := hops[id]; ok && (best < 0 || h < best) {
			best = h
		}
	}
	if best < 0 || best > MaxHops {
		return 0
	}
	return 1 / float64(1+best)
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func missing(ids []string, have []model.EntityEdge) []string {
	loaded := make(map[string]bool, len(have))
	for _, f := range have {
		loaded[f.UUID] = true
	}
	var out []string
	for _, id := range ids {
		if !loaded[id] {
			loaded[id] = true
			out = append(out, id)
		}
	}
	return out
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
