package qdrant

import (
	"fmt"
	"sort"
	"strings"
)

const (
	filterOpAnd = "$and"
	filterOpOr  = "$or"
	filterOpNot = "$not"
	filterOpIn  = "$in"
	filterOpEq  = "$eq"
	filterOpNe  = "$ne"
)

type translatedFilter struct {
	Must    []any
	Should  []any
	MustNot []any
}

func (f translatedFilter) asMap() map[string]any {
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = f.Must
	}
	if len(f.Should) > 0 {
		out["should"] = f.Should
	}
	if len(f.MustNot) > 0 {
		out["must_not"] = f.MustNot
	}
	return out
}

func mergeTranslatedFilters(dst *translatedFilter, src translatedFilter) {
	if dst == nil {
		return
	}
	dst.Must = append(dst.Must, src.Must...)
	dst.Should = append(dst.Should, src.Should...)
	dst.MustNot = append(dst.MustNot, src.MustNot...)
}

func qdrantMatchCondition(field string, value any) map[string]any {
	return map[string]any{
		"key":   field,
		"match": map[string]any{"value": value},
	}
}

func qdrantMatchAnyCondition(field string, values []any) map[string]any {
	return map[string]any{
		"key":   field,
		"match": map[string]any{"any": values},
	}
}

// translateFilterMap converts a mongo-style filter map into qdrant must /
// should / must_not clauses. Keys are processed in sorted order so translation
// is deterministic.
func translateFilterMap(filter map[string]any) (translatedFilter, error) {
	out := translatedFilter{}
	if len(filter) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := filter[key]
		k := strings.TrimSpace(key)
		if k == "" {
			continue
		}

		if strings.HasPrefix(k, "$") {
			sub, err := translateLogicalOp(strings.ToLower(k), value)
			if err != nil {
				return translatedFilter{}, err
			}
			mergeTranslatedFilters(&out, sub)
			continue
		}

		conds, negated, err := translateFieldCondition(k, value)
		if err != nil {
			return translatedFilter{}, err
		}
		out.Must = append(out.Must, conds...)
		out.MustNot = append(out.MustNot, negated...)
	}
	return out, nil
}

func translateLogicalOp(op string, value any) (translatedFilter, error) {
	out := translatedFilter{}
	switch op {
	case filterOpAnd:
		items, err := toObjectSlice(value)
		if err != nil {
			return out, opErr("filter_translate", OperationErrorValidation,
				fmt.Sprintf("operator %s expects array of objects", filterOpAnd), err)
		}
		for _, item := range items {
			sub, err := translateFilterMap(item)
			if err != nil {
				return translatedFilter{}, err
			}
			out.Must = append(out.Must, sub.asMap())
		}
	case filterOpOr:
		items, err := toObjectSlice(value)
		if err != nil {
			return out, opErr("filter_translate", OperationErrorValidation,
				fmt.Sprintf("operator %s expects array of objects", filterOpOr), err)
		}
		for _, item := range items {
			sub, err := translateFilterMap(item)
			if err != nil {
				return translatedFilter{}, err
			}
			out.Should = append(out.Should, sub.asMap())
		}
	case filterOpNot:
		item, ok := value.(map[string]any)
		if !ok {
			return out, opErr("filter_translate", OperationErrorValidation,
				fmt.Sprintf("operator %s expects an object", filterOpNot), nil)
		}
		sub, err := translateFilterMap(item)
		if err != nil {
			return translatedFilter{}, err
		}
		out.MustNot = append(out.MustNot, sub.asMap())
	default:
		return out, opErr("filter_translate", OperationErrorUnsupportedFilter,
			fmt.Sprintf("unsupported logical operator %q", op), nil)
	}
	return out, nil
}

// translateFieldCondition handles `field: scalar`, `field: [..]` and
// `field: {$eq|$ne|$in: ..}` forms. Returns positive and negated conditions.
func translateFieldCondition(field string, value any) (conds []any, negated []any, err error) {
	switch v := value.(type) {
	case map[string]any:
		opKeys := make([]string, 0, len(v))
		for op := range v {
			opKeys = append(opKeys, op)
		}
		sort.Strings(opKeys)
		for _, op := range opKeys {
			operand := v[op]
			switch strings.ToLower(strings.TrimSpace(op)) {
			case filterOpEq:
				conds = append(conds, qdrantMatchCondition(field, operand))
			case filterOpNe:
				negated = append(negated, qdrantMatchCondition(field, operand))
			case filterOpIn:
				values, convErr := toScalarSlice(operand)
				if convErr != nil {
					return nil, nil, opErr("filter_translate", OperationErrorValidation,
						fmt.Sprintf("field %q: %s expects array of scalars", field, filterOpIn), convErr)
				}
				conds = append(conds, qdrantMatchAnyCondition(field, values))
			default:
				return nil, nil, opErr("filter_translate", OperationErrorUnsupportedFilter,
					fmt.Sprintf("field %q: unsupported operator %q", field, op), nil)
			}
		}
	case []any:
		values, convErr := toScalarSlice(v)
		if convErr != nil {
			return nil, nil, opErr("filter_translate", OperationErrorValidation,
				fmt.Sprintf("field %q: array filter expects scalars", field), convErr)
		}
		conds = append(conds, qdrantMatchAnyCondition(field, values))
	case []string:
		values := make([]any, 0, len(v))
		for _, s := range v {
			values = append(values, s)
		}
		conds = append(conds, qdrantMatchAnyCondition(field, values))
	default:
		conds = append(conds, qdrantMatchCondition(field, value))
	}
	return conds, negated, nil
}

func toObjectSlice(value any) ([]map[string]any, error) {
	items, ok := value.([]any)
	if !ok {
		if typed, okTyped := value.([]map[string]any); okTyped {
			return typed, nil
		}
		return nil, fmt.Errorf("expected array, got %T", value)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object element, got %T", item)
		}
		out = append(out, obj)
	}
	return out, nil
}

func toScalarSlice(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			switch item.(type) {
			case map[string]any, []any:
				return nil, fmt.Errorf("nested value %T not allowed", item)
			}
		}
		return v, nil
	case []string:
		out := make([]any, 0, len(v))
		for _, s := range v {
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", value)
	}
}
