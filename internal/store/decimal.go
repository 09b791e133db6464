package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// decimalMap converts a generic document to DynamoDB attributes with every
// number written as an exact decimal string. DynamoDB N values are decimal,
// so the printed form of a float (97.345) is what gets stored, not its
// binary approximation.
func decimalMap(doc map[string]any) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(doc))
	for k, v := range doc {
		av, err := decimalValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

func decimalValue(v any) (types.AttributeValue, error) {
	switch t := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case map[string]any:
		m, err := decimalMap(t)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case []any:
		list := make([]types.AttributeValue, 0, len(t))
		for i, item := range t {
			av, err := decimalValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list = append(list, av)
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", t, err)
		}
		return decimalFloat(f)
	case float64:
		return decimalFloat(t)
	case float32:
		return decimalFloat(float64(t))
	default:
		return attributevalue.Marshal(v)
	}
}

func decimalFloat(f float64) (types.AttributeValue, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}, nil
}
