// Package graph builds a low-dimensional "knowledge atlas" over a
// collection's embeddings for visualization and builds an adjacency
// graph over it for shortest-path queries (§4.8). Projection and
// shortest-path here are plain numerical algorithms with no natural
// third-party home in the reference pack; see DESIGN.md for why they
// are implemented directly rather than imported.
package graph

import (
	"container/heap"
	"context"
	"math"
	"sort"

	"github.com/phoenixmesh/phoenix/internal/retrieval/rerank"
	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

const (
	maxNeighbors        = 10
	maxKeptNeighbors    = 2
	neighborScoreFloor  = 0.85
	defaultNodeVectDims = 384
)

// Node is one atlas entry: a document projected into 3 dimensions.
type Node struct {
	ID      string
	Content string
	X, Y, Z float64
}

// Edge connects two nodes with a cross-encoder-derived strength in
// [0, 1] — higher means more related.
type Edge struct {
	From, To string
	Strength float64
}

// Atlas is a projected node set plus its re-scored neighbor graph.
type Atlas struct {
	Nodes []Node
	Edges []Edge
}

// Build scrolls up to maxNodes points from a collection, projects their
// dense vectors to 3-D, finds each node's nearest neighbors by cosine
// similarity, and keeps up to maxKeptNeighbors per node whose
// cross-encoder-rescored strength exceeds neighborScoreFloor.
func Build(ctx context.Context, store vectorstore.Store, ce rerank.CrossEncoder, collection string, maxNodes int) (*Atlas, error) {
	points, err := store.Scroll(ctx, collection, maxNodes)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float64, len(points))
	for i, p := range points {
		vectors[i] = toFloat64(p.Vector)
	}
	coords := ProjectPCA(vectors)

	nodes := make([]Node, len(points))
	for i, p := range points {
		nodes[i] = Node{ID: p.ID, Content: p.Content, X: coords[i][0], Y: coords[i][1], Z: coords[i][2]}
	}

	var edges []Edge
	for i, p := range points {
		neighbors := nearestNeighbors(p, points, i, maxNeighbors)
		kept := 0
		for _, n := range neighbors {
			if kept >= maxKeptNeighbors {
				break
			}
			strength, err := rescored(ctx, ce, p, n)
			if err != nil {
				return nil, err
			}
			if strength <= neighborScoreFloor {
				continue
			}
			edges = append(edges, Edge{From: p.ID, To: n.Point.ID, Strength: strength})
			kept++
		}
	}

	return &Atlas{Nodes: nodes, Edges: edges}, nil
}

type scoredNeighbor struct {
	Point vectorstore.Point
	Score float64
}

func nearestNeighbors(origin vectorstore.Point, all []vectorstore.Point, originIdx, limit int) []scoredNeighbor {
	var scored []scoredNeighbor
	for i, p := range all {
		if i == originIdx {
			continue
		}
		scored = append(scored, scoredNeighbor{Point: p, Score: cosine(origin.Vector, p.Vector)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func rescored(ctx context.Context, ce rerank.CrossEncoder, a, b vectorstore.Point) (float64, error) {
	logit, err := ce.Score(ctx, a.Content, b.Content)
	if err != nil {
		return 0, err
	}
	return 1.0 / (1.0 + math.Exp(-logit)), nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// --- shortest path ---

type pathItem struct {
	node string
	dist float64
}

type priorityQueue []pathItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pathItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// ShortestPath runs Dijkstra over the atlas's edges, treating them as
// undirected with weight (1 - strength + 0.01) so stronger relations are
// "closer". Returns the path node ids from start to end inclusive, and
// found=false if either endpoint is absent or end is unreachable.
func ShortestPath(a *Atlas, start, end string) (path []string, found bool) {
	adjacency := make(map[string][]Edge)
	nodeExists := make(map[string]bool, len(a.Nodes))
	for _, n := range a.Nodes {
		nodeExists[n.ID] = true
	}
	for _, e := range a.Edges {
		weight := 1 - e.Strength + 0.01
		adjacency[e.From] = append(adjacency[e.From], Edge{From: e.From, To: e.To, Strength: weight})
		adjacency[e.To] = append(adjacency[e.To], Edge{From: e.To, To: e.From, Strength: weight})
	}

	if !nodeExists[start] || !nodeExists[end] {
		return nil, false
	}

	dist := map[string]float64{start: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	pq := &priorityQueue{{node: start, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pathItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		if cur.node == end {
			break
		}
		for _, e := range adjacency[cur.node] {
			alt := dist[cur.node] + e.Strength
			if d, ok := dist[e.To]; !ok || alt < d {
				dist[e.To] = alt
				prev[e.To] = cur.node
				heap.Push(pq, pathItem{node: e.To, dist: alt})
			}
		}
	}

	if _, ok := dist[end]; !ok {
		return nil, false
	}

	node := end
	for node != start {
		path = append([]string{node}, path...)
		p, ok := prev[node]
		if !ok {
			return nil, false
		}
		node = p
	}
	path = append([]string{start}, path...)
	return path, true
}
