package playbook

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// schemaSource is the CUE schema every playbook front-matter block must
// satisfy. The definition stays open ("...") so unrecognized top-level keys
// unify cleanly and are handled as warnings by the loader; the required
// field set below is the hard contract.
const schemaSource = `
#Playbook: {
	id:          string
	version:     string | number
	description: string
	parameters: {[string]: #Parameter}
	allowed_tools: [...string]
	write_scope: [...string]
	run_mode: "plan" | "apply"
	...
}

#Parameter: {
	type:         "string" | "int" | "float" | "bool" | "enum" | "path"
	required?:    bool
	default?:     _
	description?: string
	enum_values?: [...string]
	if type == "enum" {
		enum_values: [string, ...string]
	}
}
`

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
)

func playbookSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		compiled := schemaCtx.CompileString(schemaSource)
		schemaDef = compiled.LookupPath(cue.ParsePath("#Playbook"))
	})
	if err := schemaDef.Err(); err != nil {
		return nil, cue.Value{}, fmt.Errorf("compile playbook schema: %w", err)
	}
	return schemaCtx, schemaDef, nil
}

// validateFrontMatter unifies the YAML front matter with the playbook schema
// and reports a malformed-playbook error carrying the full CUE diagnostics.
func validateFrontMatter(path string, front []byte) error {
	ctx, def, err := playbookSchema()
	if err != nil {
		return err
	}
	file, err := cueyaml.Extract(path, front)
	if err != nil {
		return validationErrorf("playbook %q front-matter is not valid YAML: %v", path, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return validationErrorf("playbook %q front-matter is not valid YAML: %v", path, err)
	}
	// Concreteness alone does not catch an absent parameters map: the
	// schema's pattern constraint is satisfied by zero entries. The key
	// itself must be present.
	if !doc.LookupPath(cue.ParsePath("parameters")).Exists() {
		return validationErrorf("malformed playbook %q: field parameters is required", path)
	}
	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return validationErrorf("malformed playbook %q: %s", path, cueerrors.Details(err, nil))
	}
	return nil
}
