package builtin

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/agentstation/brickflow"
)

// pipelineArg returns the nested pipeline under key. A missing key yields
// ok == false; any other non-pipeline value is a business error.
func pipelineArg(args map[string]any, key string) (brickflow.PipelineExpr, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return brickflow.PipelineExpr{}, false, nil
	}
	switch p := v.(type) {
	case brickflow.PipelineExpr:
		return p, true, nil
	case brickflow.Pipeline:
		return brickflow.PipelineExpr{Steps: p}, true, nil
	case []any:
		steps, err := brickflow.DecodePipeline(p)
		if err != nil {
			return brickflow.PipelineExpr{}, false, &brickflow.BusinessError{Message: key + " is not a valid pipeline", Cause: err}
		}
		return brickflow.PipelineExpr{Steps: steps}, true, nil
	default:
		return brickflow.PipelineExpr{}, false, brickflow.NewBusinessError("%s must be a pipeline, got %T", key, v)
	}
}

// requirePipeline is pipelineArg for mandatory bodies.
func requirePipeline(args map[string]any, key string) (brickflow.PipelineExpr, error) {
	p, ok, err := pipelineArg(args, key)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, brickflow.NewBusinessError("%s is required", key)
	}
	return p, nil
}

// toSlice converts arrays of any element type to []any.
func toSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toFloat coerces JSON-ish numbers.
func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", f)
	}
	return f, nil
}

// toInt coerces JSON-ish numbers. Fractions are truncated.
func toInt(v any) (int, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// intArg reads an optional integer argument.
func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, &brickflow.BusinessError{Message: key + " must be a number", Cause: err}
	}
	return n, nil
}

// stringArg reads an optional string argument.
func stringArg(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return def
}

// boolArg reads an optional boolean argument.
func boolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	return brickflow.Truthy(v)
}
