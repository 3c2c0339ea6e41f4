// Package interpret executes declarative workflow action lists against
// the sandbox, one action at a time, reporting per-action outcomes on an
// event channel.
package interpret

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaSource string

// SchemaError reports a document that failed schema validation. Nothing
// in the document was executed.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return "action document rejected: " + e.Detail
}

var compileSchema = sync.OnceValues(func() (cue.Value, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compiling action schema: %w", err)
	}
	doc := schema.LookupPath(cue.ParsePath("#Document"))
	if err := doc.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("resolving action schema document: %w", err)
	}
	return doc, nil
})

// ParseActions validates a JSON action document wholesale and decodes it.
// Validation is a precondition: a single malformed action rejects the
// whole document before anything executes. Unrecognized action types are
// deliberately allowed through; the interpreter reports those per action.
func ParseActions(data []byte) ([]Action, error) {
	doc, err := compileSchema()
	if err != nil {
		return nil, err
	}

	expr, err := cuejson.Extract("actions.json", data)
	if err != nil {
		return nil, &SchemaError{Detail: err.Error()}
	}

	val := doc.Context().BuildExpr(expr)
	if err := val.Err(); err != nil {
		return nil, &SchemaError{Detail: err.Error()}
	}

	unified := doc.Unify(val)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, &SchemaError{Detail: cueerrors.Details(err, nil)}
	}

	var actions []Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, &SchemaError{Detail: err.Error()}
	}
	return actions, nil
}
