package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the Qdrant-backed Store.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore implements Store against a running Qdrant instance. Qdrant
// is not a teacher dependency; it is adopted from the rest of the
// retrieval-relevant example pack (kadirpekel-hector) as the concrete
// collection-oriented engine spec.md §1 assumes but leaves out of scope.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
}

// NewQdrantStore dials a Qdrant instance.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantStore{client: client, cfg: cfg}, nil
}

func (q *QdrantStore) ensureCollection(ctx context.Context, collection string, dim uint64) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, collection, uint64(len(points[0].Vector))); err != nil {
		return err
	}

	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload)+2)
		for k, v := range p.Payload {
			val, err := qdrant.NewValue(v)
			if err != nil {
				return fmt.Errorf("vectorstore: encode payload key %s: %w", k, err)
			}
			payload[k] = val
		}
		contentVal, _ := qdrant.NewValue(p.Content)
		namespaceVal, _ := qdrant.NewValue(p.Namespace)
		payload["content"] = contentVal
		payload["namespace"] = namespaceVal

		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert into %s: %w", collection, err)
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, collection string, params SearchParams) ([]ScoredPoint, error) {
	filter := buildFilter(params.Filter)

	limit := uint64(params.Limit)
	if limit == 0 {
		limit = 10
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         params.Vector,
		Filter:         filter,
		Limit:          limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}

	searchResult, err := q.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search %s: %w", collection, err)
	}

	out := make([]ScoredPoint, 0, len(searchResult.GetResult()))
	for _, r := range searchResult.GetResult() {
		if float64(r.GetScore()) < params.Threshold {
			continue
		}
		out = append(out, ScoredPoint{
			Point: Point{
				ID:      r.GetId().GetUuid(),
				Payload: payloadToMap(r.GetPayload()),
				Content: r.GetPayload()["content"].GetStringValue(),
			},
			Score: float64(r.GetScore()),
		})
	}
	return out, nil
}

func (q *QdrantStore) Scroll(ctx context.Context, collection string, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 1000
	}
	l := uint32(limit)
	resp, err := q.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scroll %s: %w", collection, err)
	}
	out := make([]Point, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		out = append(out, Point{
			ID:      p.GetId().GetUuid(),
			Payload: payloadToMap(p.GetPayload()),
			Content: p.GetPayload()["content"].GetStringValue(),
		})
	}
	return out, nil
}

func (q *QdrantStore) DeleteWhere(ctx context.Context, collection, key, value string) (int, error) {
	filter := buildFilter(map[string]string{key: value})
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: delete where %s=%s in %s: %w", key, value, collection, err)
	}
	return 0, nil // Qdrant's delete response does not report a count.
}

// buildFilter mirrors the teacher pack's keyword-match condition builder.
func buildFilter(match map[string]string) *qdrant.Filter {
	if len(match) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(match))
	for key, value := range match {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func (q *QdrantStore) Snapshot(ctx context.Context, collection string) error {
	_, err := q.client.CreateSnapshot(ctx, collection)
	if err != nil {
		return fmt.Errorf("vectorstore: snapshot %s: %w", collection, err)
	}
	return nil
}

func (q *QdrantStore) Restore(ctx context.Context, collection string) error {
	// Qdrant restores a snapshot by recovery request naming a snapshot
	// location; the concrete location is operator-managed and out of
	// scope (spec.md §1 "the vector database itself").
	return fmt.Errorf("vectorstore: restore %s: snapshot location must be supplied by the operator", collection)
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = v.GetStringValue()
	}
	return out
}
