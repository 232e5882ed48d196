// Package playbook loads and validates playbook documents and binds their
// typed parameters.
//
// A playbook is a text document with a YAML front-matter block (id, version,
// description, parameters, allowed_tools, write_scope, run_mode) followed by
// a free-text instruction body containing {{parameter}} placeholders. The
// front matter is validated against a CUE schema; the required field set is
// fixed while unrecognized top-level keys are ignored with a warning, so
// newer documents keep loading on older runners.
package playbook

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterBoundary = "---"

// ParamType enumerates the declared parameter types.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
	TypeEnum   ParamType = "enum"
	TypePath   ParamType = "path"
)

// Mode is an execution mode: plan or apply.
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeApply Mode = "apply"
)

// ValidationError reports a malformed playbook or an invalid parameter
// binding. Validation errors fail fast, before any agent-runtime call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ParameterSpec is one declared parameter definition.
type ParameterSpec struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Description string
	EnumValues  []string
}

// Playbook is a parsed playbook document. Loaded fresh on every invocation;
// the source file is the durable copy.
type Playbook struct {
	ID           string
	Version      string
	Description  string
	Parameters   map[string]ParameterSpec
	AllowedTools []string
	WriteScope   []string
	RunMode      Mode
	Body         string
	Path         string
}

var knownFields = map[string]bool{
	"id": true, "version": true, "description": true, "parameters": true,
	"allowed_tools": true, "write_scope": true, "run_mode": true,
}

// rawPlaybook mirrors the front-matter layout for YAML decoding. Schema
// enforcement happens in CUE before this decode.
type rawPlaybook struct {
	ID           any                 `yaml:"id"`
	Version      any                 `yaml:"version"`
	Description  string              `yaml:"description"`
	Parameters   map[string]rawParam `yaml:"parameters"`
	AllowedTools []string            `yaml:"allowed_tools"`
	WriteScope   []string            `yaml:"write_scope"`
	RunMode      Mode                `yaml:"run_mode"`
}

type rawParam struct {
	Type        string   `yaml:"type"`
	Required    bool     `yaml:"required"`
	Default     any      `yaml:"default"`
	Description string   `yaml:"description"`
	EnumValues  []string `yaml:"enum_values"`
}

// Load parses and validates the playbook at path.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, validationErrorf("playbook file %q does not exist", path)
		}
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	front, body, err := splitFrontMatter(string(data), path)
	if err != nil {
		return nil, err
	}
	if err := validateFrontMatter(path, []byte(front)); err != nil {
		return nil, err
	}
	warnUnknownFields(path, []byte(front))

	var raw rawPlaybook
	if err := yaml.Unmarshal([]byte(front), &raw); err != nil {
		return nil, validationErrorf("playbook %q front-matter is not valid YAML: %v", path, err)
	}

	pb := &Playbook{
		ID:           fmt.Sprint(raw.ID),
		Version:      fmt.Sprint(raw.Version),
		Description:  raw.Description,
		Parameters:   make(map[string]ParameterSpec, len(raw.Parameters)),
		AllowedTools: raw.AllowedTools,
		WriteScope:   raw.WriteScope,
		RunMode:      raw.RunMode,
		Body:         body,
		Path:         path,
	}
	for name, rp := range raw.Parameters {
		spec := ParameterSpec{
			Name:        name,
			Type:        ParamType(rp.Type),
			Required:    rp.Required,
			Default:     rp.Default,
			Description: rp.Description,
			EnumValues:  rp.EnumValues,
		}
		pb.Parameters[name] = spec
	}
	return pb, nil
}

func splitFrontMatter(text, path string) (front, body string, err error) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterBoundary {
		return "", "", validationErrorf("playbook %q missing YAML front-matter", path)
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterBoundary {
			front = strings.Join(lines[1:i], "\n")
			body = strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n")
			return front, body, nil
		}
	}
	return "", "", validationErrorf("playbook %q front-matter is not closed", path)
}

// warnUnknownFields logs top-level keys outside the known set. They are
// ignored, not rejected.
func warnUnknownFields(path string, front []byte) {
	var top map[string]any
	if err := yaml.Unmarshal(front, &top); err != nil {
		return
	}
	var unknown []string
	for key := range top {
		if !knownFields[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		slog.Warn("ignoring unknown playbook fields", "playbook", path, "fields", unknown)
	}
}
