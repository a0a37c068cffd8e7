package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/triflow-ai/smoke/pkg/engine"
)

// ValidationError is one schema violation with its location in the arguments.
type ValidationError struct {
	Path    string `json:"path"` // slash-separated instance location, e.g. "email"
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Join renders errs as one message.
func Join(errs []*ValidationError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validator checks tool arguments against the input schema. Formats
// (email, uri) are asserted, not just annotated.
type Validator struct {
	schema  *sjsonschema.Schema
	printer *message.Printer
}

// NewInputValidator compiles the engine.Input schema.
func NewInputValidator() (*Validator, error) {
	data, err := GenerateInputSchema()
	if err != nil {
		return nil, err
	}
	doc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal input schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(InputSchemaID, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(InputSchemaID)
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return &Validator{schema: sch, printer: message.NewPrinter(language.English)}, nil
}

// Validate checks an already-decoded JSON document. Nil means valid.
func (v *Validator) Validate(doc any) []*ValidationError {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []*ValidationError{{Message: err.Error()}}
	}
	var errs []*ValidationError
	for _, cause := range flattenValidationErrors(ve) {
		errs = append(errs, &ValidationError{
			Path:    strings.Join(cause.InstanceLocation, "/"),
			Message: cause.ErrorKind.LocalizedString(v.printer),
		})
	}
	return errs
}

// DecodeArguments validates tool arguments and decodes them into an Input.
func (v *Validator) DecodeArguments(args map[string]any) (engine.Input, []*ValidationError) {
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through JSON so the validator sees the same value types a
	// wire decode would produce.
	data, err := json.Marshal(args)
	if err != nil {
		return engine.Input{}, []*ValidationError{{Message: fmt.Sprintf("marshal arguments: %v", err)}}
	}
	doc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return engine.Input{}, []*ValidationError{{Message: fmt.Sprintf("unmarshal arguments: %v", err)}}
	}
	if errs := v.Validate(doc); errs != nil {
		return engine.Input{}, errs
	}

	var in engine.Input
	if err := json.Unmarshal(data, &in); err != nil {
		return engine.Input{}, []*ValidationError{{Message: fmt.Sprintf("decode arguments: %v", err)}}
	}
	return in, nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
