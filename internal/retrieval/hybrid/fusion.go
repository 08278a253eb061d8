// Package hybrid implements the retrieval core's candidate generation and
// fusion stages (§4.7): dense + sparse candidate sets, Reciprocal Rank
// Fusion with a bias knob, and namespace diversification.
package hybrid

import "sort"

// rrfK is the RRF smoothing constant from §4.7 / scenario 5.
const rrfK = 60

// RankedDoc is one document id with its rank (0-based) in a single
// candidate list.
type RankedDoc struct {
	DocID string
	Rank  int
}

// FusedDoc is a document after RRF, before diversification.
type FusedDoc struct {
	DocID string
	Score float64
}

// Weights returns (w_dense, w_sparse) for a bias in [-1, 1]. The two
// always sum to 1 (§8 laws).
func Weights(bias float64) (dense, sparse float64) {
	if bias < -1 {
		bias = -1
	}
	if bias > 1 {
		bias = 1
	}
	dense = (bias + 1) / 2
	sparse = 1 - dense
	return dense, sparse
}

// Fuse merges dense and sparse ranked lists via Reciprocal Rank Fusion:
// score(d) = w_dense·(1/(k+rank_dense+1)) + w_sparse·(1/(k+rank_sparse+1)).
// A doc present in only one list contributes zero from the other. The
// result is sorted descending by score.
func Fuse(dense, sparse []RankedDoc, bias float64) []FusedDoc {
	wDense, wSparse := Weights(bias)

	denseRank := make(map[string]int, len(dense))
	for _, d := range dense {
		denseRank[d.DocID] = d.Rank
	}
	sparseRank := make(map[string]int, len(sparse))
	for _, d := range sparse {
		sparseRank[d.DocID] = d.Rank
	}

	seen := make(map[string]struct{}, len(dense)+len(sparse))
	var ids []string
	for _, d := range dense {
		if _, ok := seen[d.DocID]; !ok {
			seen[d.DocID] = struct{}{}
			ids = append(ids, d.DocID)
		}
	}
	for _, d := range sparse {
		if _, ok := seen[d.DocID]; !ok {
			seen[d.DocID] = struct{}{}
			ids = append(ids, d.DocID)
		}
	}

	out := make([]FusedDoc, 0, len(ids))
	for _, id := range ids {
		var score float64
		if rank, ok := denseRank[id]; ok {
			score += wDense * (1.0 / float64(rrfK+rank+1))
		}
		if rank, ok := sparseRank[id]; ok {
			score += wSparse * (1.0 / float64(rrfK+rank+1))
		}
		out = append(out, FusedDoc{DocID: id, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Diversify takes up to ceil(topK/numNamespaces) (floor at 2) from each
// namespace first, preserving relative order within each namespace, then
// fills remaining slots in fused order. It only reorders; it never drops a
// result that fits within topK (§8 laws: "diversification preserves the
// set of results").
func Diversify(ranked []FusedDoc, namespaceOf map[string]string, topK int) []FusedDoc {
	if topK <= 0 || len(ranked) <= topK {
		return truncate(ranked, topK)
	}

	byNamespace := make(map[string][]FusedDoc)
	var nsOrder []string
	for _, d := range ranked {
		ns := namespaceOf[d.DocID]
		if _, ok := byNamespace[ns]; !ok {
			nsOrder = append(nsOrder, ns)
		}
		byNamespace[ns] = append(byNamespace[ns], d)
	}

	numNamespaces := len(nsOrder)
	perNamespace := topK / numNamespaces
	if topK%numNamespaces != 0 {
		perNamespace++
	}
	if perNamespace < 2 {
		perNamespace = 2
	}

	included := make(map[string]struct{}, topK)
	var result []FusedDoc
	for _, ns := range nsOrder {
		docs := byNamespace[ns]
		n := perNamespace
		if n > len(docs) {
			n = len(docs)
		}
		for _, d := range docs[:n] {
			if len(result) >= topK {
				break
			}
			result = append(result, d)
			included[d.DocID] = struct{}{}
		}
	}

	for _, d := range ranked {
		if len(result) >= topK {
			break
		}
		if _, ok := included[d.DocID]; ok {
			continue
		}
		result = append(result, d)
		included[d.DocID] = struct{}{}
	}

	return result
}

func truncate(docs []FusedDoc, topK int) []FusedDoc {
	if topK <= 0 || topK >= len(docs) {
		return docs
	}
	return docs[:topK]
}

// ClampTopK enforces the [1, 100] boundary from §8.
func ClampTopK(topK int) int {
	switch {
	case topK < 1:
		return 1
	case topK > 100:
		return 100
	default:
		return topK
	}
}
