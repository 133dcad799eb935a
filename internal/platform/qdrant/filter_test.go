package qdrant

import (
	"errors"
	"testing"
)

func TestTranslateFilterEquality(t *testing.T) {
	out, err := translateFilterMap(map[string]any{"language": "python"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(out.Must) != 1 {
		t.Fatalf("expected one must condition, got %+v", out)
	}
	cond := out.Must[0].(map[string]any)
	if cond["key"] != "language" {
		t.Fatalf("wrong key: %+v", cond)
	}
}

func TestTranslateFilterInAndNe(t *testing.T) {
	out, err := translateFilterMap(map[string]any{
		"qtype":    map[string]any{"$in": []any{"numeric", "mcq"}},
		"language": map[string]any{"$ne": "r"},
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(out.Must) != 1 || len(out.MustNot) != 1 {
		t.Fatalf("unexpected translation: %+v", out)
	}
}

func TestTranslateFilterOr(t *testing.T) {
	out, err := translateFilterMap(map[string]any{
		"$or": []any{
			map[string]any{"topic": "algebra"},
			map[string]any{"topic": "geometry"},
		},
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(out.Should) != 2 {
		t.Fatalf("expected two should branches, got %+v", out)
	}
}

func TestTranslateFilterUnsupportedOperator(t *testing.T) {
	_, err := translateFilterMap(map[string]any{
		"score": map[string]any{"$gte": 5},
	})
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorUnsupportedFilter {
		t.Fatalf("expected unsupported filter error, got %v", err)
	}
}
