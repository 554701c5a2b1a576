package planner

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/rendis/cascade/pkg/schema"
)

// DefaultActionQuery selects the action field of a stream message. Lines
// that are not objects (keepalive strings, arrays) yield nothing.
const DefaultActionQuery = ".action?"

// extractor pulls actions out of stream messages with a compiled jq query.
// A query may yield several actions per message; null results are skipped.
type extractor struct {
	query string
	code  *gojq.Code
}

func newExtractor(query string) (*extractor, error) {
	if query == "" {
		query = DefaultActionQuery
	}
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid action query %q", query).WithCause(err)
	}
	code, err := gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "compile action query %q", query).WithCause(err)
	}
	return &extractor{query: query, code: code}, nil
}

// extract runs the query against msg and returns the actions it yields.
func (x *extractor) extract(ctx context.Context, msg json.RawMessage) ([]schema.Action, error) {
	var input any
	if err := json.Unmarshal(msg, &input); err != nil {
		return nil, err
	}

	var out []schema.Action
	iter := x.code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodePlanner,
				"action query %q failed: %s", x.query, err.Error()).WithCause(err)
		}
		if v == nil {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Action(raw))
	}
	return out, nil
}
