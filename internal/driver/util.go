package driver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func encodeProps(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeProps(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(s), &props); err != nil {
		return nil, err
	}
	return props, nil
}

// decodeVector reads a little-endian float32 BLOB as written by
// sqlite_vec.SerializeFloat32.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// storableVector drops vectors that carry no direction; cosine against them
// is undefined.
func storableVector(v []float32) []float32 {
	if len(v) == 0 || common.IsZeroVector(v) {
		return nil
	}
	return v
}

func factTokens(f *model.EntityEdge) []string {
	return common.TokenSet(f.Fact, f.SourceName, f.TargetName, f.Type)
}

func entityTokens(e *model.EntityNode) []string {
	return common.TokenSet(e.Name)
}

// expand runs a breadth-first walk from seeds up to depth hops. neighbors
// returns the entities adjacent to a frontier. When limit is positive the walk
// stops once limit entities are reached; each hop admits new entities in
// ascending uuid order so a truncated walk is deterministic.
func expand(ctx context.Context, seeds []string, depth, limit int, neighbors func(ctx context.Context, frontier []string) ([]string, error)) (map[string]int, error) {
	dist := make(map[string]int, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := dist[s]; !ok {
			dist[s] = 0
			frontier = append(frontier, s)
		}
	}
	full := func() bool { return limit > 0 && len(dist) >= limit }

	for hop := 1; hop <= depth && len(frontier) > 0 && !full(); hop++ {
		next, err := neighbors(ctx, frontier)
		if err != nil {
			return nil, err
		}
		sort.Strings(next)
		frontier = frontier[:0]
		for _, n := range next {
			if full() {
				break
			}
			if _, ok := dist[n]; ok {
				continue
			}
			dist[n] = hop
			frontier = append(frontier, n)
		}
	}
	return dist, nil
}

type scoredID struct {
	id    string
	score float64
}

// topByScore sorts by score descending and keeps at most limit ids with a
// score of at least min.
func topByScore(items []scoredID, min float64, limit int) []string {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].id < items[j].id
	})
	out := make([]string, 0, limit)
	for _, it := range items {
		if it.score < min || len(out) == limit {
			break
		}
		out = append(out, it.id)
	}
	return out
}
