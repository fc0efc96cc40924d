package core

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/community"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

const MaxClusterDepth = 3

// clusterReach is the most entities a walk may reach per allowed fact; each
// fact joins at most two entities.
const clusterReach = 2

// ClusterQuery selects the entities named by Text, walks Depth hops of live
// facts from them and partitions what it reached. Zero values take the
// configured defaults.
type ClusterQuery struct {
	Text      string `json:"query"`
	Depth     int    `json:"depth,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
}

// Clusters groups the live neighbourhood of the entities a query names, e.g.
// the machines, operators and suppliers that form one production cell.
func (g *Graphiti) Clusters(ctx context.Context, q ClusterQuery) ([]model.Cluster, error) {
	tokens := common.TokenSet(q.Text)
	if len(tokens) == 0 {
		return nil, kgerr.New(kgerr.CodeSearchQueryInvalid, "query is required")
	}

	cfg := g.Config.Clusters
	depth := q.Depth
	if depth <= 0 {
		depth = cfg.Depth
	}
	depth = min(depth, MaxClusterDepth)

	algorithm := q.Algorithm
	if algorithm == "" {
		algorithm = cfg.Algorithm
	}
	detector, err := community.New(algorithm, cfg.MaxIterations)
	if err != nil {
		return nil, kgerr.Wrap(err, kgerr.CodeSearchQueryInvalid, "invalid clustering algorithm",
			kgerr.Field("algorithm", algorithm))
	}

	var (
		nodes []model.EntityNode
		facts []model.EntityEdge
	)
	err = g.Driver.View(ctx, func(tx driver.ReadTx) error {
		seeds, err := tx.LexicalEntities(ctx, tokens, g.Config.Search.CandidatePool)
		if err != nil || len(seeds) == 0 {
			return err
		}
		reach := cfg.MaxFacts * clusterReach
		hops, err := tx.Neighborhood(ctx, seeds, depth, reach)
		if err != nil {
			return err
		}
		if len(hops) >= reach {
			g.log.Debug("cluster walk truncated", zap.Int("reach", reach), zap.Int("depth", depth))
		}
		ids := make([]string, 0, len(hops))
		for id := range hops {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		factIDs, err := tx.FactsTouching(ctx, ids, driver.FactFilter{Limit: cfg.MaxFacts})
		if err != nil {
			return err
		}
		if facts, err = tx.GetFacts(ctx, factIDs); err != nil {
			return err
		}
		entities, err := tx.GetEntities(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if e, ok := entities[id]; ok {
				nodes = append(nodes, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	groups := detector.Detect(nodes, facts)
	out := make([]model.Cluster, 0, len(groups))
	for _, members := range groups {
		in := make(map[string]bool, len(members))
		for _, m := range members {
			in[m.UUID] = true
		}
		c := model.Cluster{Entities: members}
		for _, f := range facts {
			if f.IsLive() && in[f.SourceUUID] && in[f.TargetUUID] {
				c.FactCount++
			}
		}
		out = append(out, c)
	}
	return out, nil
}
