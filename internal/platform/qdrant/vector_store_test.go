package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

type fakeQdrant struct {
	mux        *http.ServeMux
	lastSearch map[string]any
	lastUpsert map[string]any
	results    []map[string]any
	distance   string
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{mux: http.NewServeMux(), distance: "Cosine"}
	f.mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f.mux.HandleFunc("/collections/questions", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status": "ok",
			"result": map[string]any{
				"config": map[string]any{
					"params": map[string]any{
						"vectors": map[string]any{"size": 3, "distance": f.distance},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	f.mux.HandleFunc("/collections/questions/points", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastUpsert)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": map[string]any{}})
	})
	f.mux.HandleFunc("/collections/questions/points/search", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastSearch)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": f.results})
	})
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestStore(t *testing.T, srv *httptest.Server) VectorStore {
	t.Helper()
	store, err := NewVectorStore(logger.Nop(), Config{
		URL:             srv.URL,
		Collection:      "questions",
		NamespacePrefix: "qs",
		VectorDim:       3,
	})
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	return store
}

func TestQueryCarriesNamespaceFilterAndPayloads(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	fake.results = []map[string]any{
		{
			"id":    "p1",
			"score": 0.9,
			"payload": map[string]any{
				payloadVectorIDKey:  "q-123",
				payloadNamespaceKey: "qs:examples",
				"language":          "javascript",
			},
		},
	}
	store := newTestStore(t, srv)

	matches, err := store.Query(context.Background(), "examples", []float32{1, 0, 0}, 5, map[string]any{"language": "javascript"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "q-123" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if matches[0].Payload["language"] != "javascript" {
		t.Fatalf("payload not carried through: %+v", matches[0].Payload)
	}
	if _, present := matches[0].Payload[payloadVectorIDKey]; present {
		t.Fatalf("internal payload key leaked")
	}

	filter, ok := fake.lastSearch["filter"].(map[string]any)
	if !ok {
		t.Fatalf("search request missing filter: %+v", fake.lastSearch)
	}
	must, ok := filter["must"].([]any)
	if !ok || len(must) != 2 {
		t.Fatalf("expected namespace + language conditions, got %+v", filter)
	}
}

func TestQueryDimensionMismatch(t *testing.T) {
	_, srv := newFakeQdrant(t)
	store := newTestStore(t, srv)

	_, err := store.Query(context.Background(), "examples", []float32{1, 0}, 5, nil)
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpsertStampsInternalPayloadKeys(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	store := newTestStore(t, srv)

	err := store.Upsert(context.Background(), "examples", []Vector{
		{ID: "q-1", Values: []float32{1, 2, 3}, Payload: map[string]any{"topic": "calculus"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	points, ok := fake.lastUpsert["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("unexpected upsert body: %+v", fake.lastUpsert)
	}
	payload := points[0].(map[string]any)["payload"].(map[string]any)
	if payload[payloadVectorIDKey] != "q-1" || payload[payloadNamespaceKey] != "qs:examples" {
		t.Fatalf("internal keys not stamped: %+v", payload)
	}
	if payload["topic"] != "calculus" {
		t.Fatalf("caller payload lost: %+v", payload)
	}
}

func TestEuclideanScoresNormalized(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	fake.distance = "Euclid"
	fake.results = []map[string]any{
		{"id": "a", "score": 3.0, "payload": map[string]any{payloadVectorIDKey: "far"}},
		{"id": "b", "score": 0.0, "payload": map[string]any{payloadVectorIDKey: "near"}},
	}
	store := newTestStore(t, srv)

	matches, err := store.Query(context.Background(), "", []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if matches[0].ID != "near" || matches[0].Score != 1.0 {
		t.Fatalf("expected distance 0 to normalize to 1.0 and rank first, got %+v", matches)
	}
	if matches[1].Score != 0.25 {
		t.Fatalf("expected distance 3 to normalize to 0.25, got %v", matches[1].Score)
	}
}
