package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"remem/internal/logging"
)

// QdrantStore implements Backend against a remote Qdrant instance. Payload
// layout mirrors the SQLite schema: scalar fields for filtering plus the
// full metadata document as a JSON string. The error_context payload field
// is only set when present, so absence filters use IsEmpty.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dims       uint64
}

// NewQdrantStore connects to Qdrant and ensures the collection exists with
// cosine distance and the given embedding dimensionality.
func NewQdrantStore(ctx context.Context, host string, port int, collection string, dims int) (*QdrantStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewQdrantStore")
	defer timer.Stop()

	logging.Store("Connecting to Qdrant at %s:%d, collection %q", host, port, collection)

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	s := &QdrantStore{client: client, collection: collection, dims: uint64(dims)}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dims,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", s.collection, err)
	}
	logging.Store("Created Qdrant collection %q (dims=%d)", s.collection, s.dims)
	return nil
}

// Upsert writes records as Qdrant points in one batch.
func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	timer := logging.StartTimer(logging.CategoryStore, "Upsert")
	defer timer.Stop()

	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if r.ID == "" || r.WorkspaceID == "" {
			return fmt.Errorf("record requires id and workspace_id")
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		payload := map[string]any{
			"kind":         r.Kind,
			"workspace_id": r.WorkspaceID,
			"metadata":     string(metaJSON),
			"created_at":   created.UTC().Unix(),
		}
		if v, ok := r.Metadata["domain"].(string); ok && v != "" {
			payload["domain"] = v
		}
		if v, ok := r.Metadata["outcome"].(string); ok && v != "" {
			payload["outcome"] = v
		}
		if v, ok := r.Metadata["error_context"]; ok && v != nil {
			payload["error_context"] = "present"
		}

		// Trace records carry no embedding; Qdrant requires a vector, so
		// store a zero vector of the collection dimensionality.
		vec := r.Embedding
		if len(vec) == 0 {
			vec = make([]float32, s.dims)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	logging.StoreDebug("Upserted %d points", len(points))
	return nil
}

// buildQdrantFilter translates a Filter into Qdrant must/must_not conditions.
func buildQdrantFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	var mustNot []*qdrant.Condition

	if f.WorkspaceID != "" {
		must = append(must, qdrant.NewMatch("workspace_id", f.WorkspaceID))
	}
	if f.Kind != "" {
		must = append(must, qdrant.NewMatch("kind", f.Kind))
	}
	if f.Domain != "" {
		must = append(must, qdrant.NewMatch("domain", f.Domain))
	}
	if f.Outcome != "" {
		must = append(must, qdrant.NewMatch("outcome", f.Outcome))
	}
	if f.HasErrorContext != nil {
		if *f.HasErrorContext {
			mustNot = append(mustNot, qdrant.NewIsEmpty("error_context"))
		} else {
			must = append(must, qdrant.NewIsEmpty("error_context"))
		}
	}
	if !f.Before.IsZero() {
		must = append(must, qdrant.NewRange("created_at", &qdrant.Range{
			Lt: qdrant.PtrOf(float64(f.Before.UTC().Unix())),
		}))
	}
	if !f.After.IsZero() {
		must = append(must, qdrant.NewRange("created_at", &qdrant.Range{
			Gte: qdrant.PtrOf(float64(f.After.UTC().Unix())),
		}))
	}
	if len(f.IDs) > 0 {
		ids := make([]*qdrant.PointId, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = qdrant.NewIDUUID(id)
		}
		must = append(must, qdrant.NewHasID(ids...))
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, MustNot: mustNot}
}

// decodePayload reconstructs record fields from a Qdrant payload.
func decodePayload(payload map[string]*qdrant.Value) (map[string]interface{}, string, string, time.Time, error) {
	var meta map[string]interface{}
	var kind, workspaceID string
	var created time.Time

	if v, ok := payload["metadata"]; ok {
		if err := json.Unmarshal([]byte(v.GetStringValue()), &meta); err != nil {
			return nil, "", "", created, fmt.Errorf("decode metadata payload: %w", err)
		}
	}
	if v, ok := payload["kind"]; ok {
		kind = v.GetStringValue()
	}
	if v, ok := payload["workspace_id"]; ok {
		workspaceID = v.GetStringValue()
	}
	if v, ok := payload["created_at"]; ok {
		created = time.Unix(v.GetIntegerValue(), 0).UTC()
	}
	return meta, kind, workspaceID, created, nil
}

// ANNQuery runs a cosine similarity query and converts scores to distances.
func (s *QdrantStore) ANNQuery(ctx context.Context, embedding []float32, k int, filter Filter) ([]ANNResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ANNQuery")
	defer timer.Stop()

	if k <= 0 {
		k = 10
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         buildQdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]ANNResult, 0, len(points))
	for _, p := range points {
		meta, _, _, _, err := decodePayload(p.Payload)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping point: %v", err)
			continue
		}
		results = append(results, ANNResult{
			ID: p.Id.GetUuid(),
			// Qdrant returns cosine similarity; convert to distance.
			Distance: 1 - float64(p.Score),
			Metadata: meta,
		})
	}
	logging.StoreDebug("ANNQuery returned %d results", len(results))
	return results, nil
}

// Scan returns all matching records via a full-count scroll.
func (s *QdrantStore) Scan(ctx context.Context, filter Filter) ([]Record, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Scan")
	defer timer.Stop()

	qf := buildQdrantFilter(filter)
	total, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         qf,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant count before scan: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         qf,
		Limit:          qdrant.PtrOf(uint32(total)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll: %w", err)
	}

	records := make([]Record, 0, len(points))
	for _, p := range points {
		meta, kind, workspaceID, created, err := decodePayload(p.Payload)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping point: %v", err)
			continue
		}
		r := Record{
			ID:          p.Id.GetUuid(),
			Kind:        kind,
			WorkspaceID: workspaceID,
			Metadata:    meta,
			CreatedAt:   created,
		}
		if v := p.Vectors.GetVector(); v != nil && kind == KindMemory {
			r.Embedding = v.Data
		}
		records = append(records, r)
	}
	return records, nil
}

// Delete removes matching points and returns the count removed.
func (s *QdrantStore) Delete(ctx context.Context, filter Filter) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Delete")
	defer timer.Stop()

	qf := buildQdrantFilter(filter)
	total, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         qf,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count before delete: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(qf),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant delete: %w", err)
	}
	logging.StoreDebug("Deleted %d points", total)
	return int(total), nil
}

// Count returns the number of matching points.
func (s *QdrantStore) Count(ctx context.Context, filter Filter) (int, error) {
	total, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         buildQdrantFilter(filter),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(total), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
