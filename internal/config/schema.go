package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// ValidationError is one schema violation.
type ValidationError struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// validateSchema unifies the YAML document with #Config. All violations are
// returned, joined.
func validateSchema(filename string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return validationErrors(err)
	}
	return nil
}

func validationErrors(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return err
	}

	errs := make([]error, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		path := strings.Join(e.Path(), ".")
		if path == "" {
			path = "(root)"
		}
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf(format, args...),
			Pos:     e.Position(),
		})
	}
	return errors.Join(errs...)
}
