package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
)

// ErrInvalidExpression is returned when an expression is not valid JSON Logic.
var ErrInvalidExpression = errors.New("invalid expression: not valid JSON Logic")

// MatchExpression applies a JSON Logic expression to the context. The data
// document exposes the context's custom attributes plus "key", "id" and "kind".
func MatchExpression(expression string, ctx evalctx.Context) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	data := ctx.Attributes()
	data["key"] = ctx.Key()
	data["id"] = ctx.Key()
	data["kind"] = ctx.Kind()
	if ctx.Name() != "" {
		data["name"] = ctx.Name()
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return false, err
	}

	var out bytes.Buffer
	if err := jsonlogic.Apply(strings.NewReader(expression), bytes.NewReader(dataBytes), &out); err != nil {
		return false, ErrInvalidExpression
	}

	var result any
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		return false, ErrInvalidExpression
	}
	return truthy(result), nil
}

// ValidateExpression checks that expression parses as JSON and applies cleanly
// against an empty document.
func ValidateExpression(expression string) error {
	if !json.Valid([]byte(expression)) {
		return ErrInvalidExpression
	}
	var out bytes.Buffer
	if err := jsonlogic.Apply(strings.NewReader(expression), strings.NewReader("{}"), &out); err != nil {
		return ErrInvalidExpression
	}
	return nil
}

// truthy follows JavaScript truthiness, which is what JSON Logic rule authors expect.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
