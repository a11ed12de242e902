package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed profile.schema.json
var profileSchema string

const schemaURL = "profile.schema.json"

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(profileSchema)); err != nil {
		panic(fmt.Sprintf("invalid profile schema: %v", err))
	}
	return compiler.MustCompile(schemaURL)
}

// Load reads a profile from path. The format follows the extension:
// .json is JSON, anything else is YAML.
//
// The returned profile has defaults applied and has been validated.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes, schema-checks, defaults and validates profile data.
func Parse(data []byte, path string) (*Profile, error) {
	doc, err := decode(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, err
	}

	// Round-trip through JSON so the schema sees JSON types and
	// both formats share one decoder.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}

	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}
	if instance == nil {
		instance = map[string]interface{}{}
		raw = []byte("{}")
	}

	if err := compiledSchema.Validate(instance); err != nil {
		return nil, schemaErrors(err)
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func decode(data []byte, ext string) (interface{}, error) {
	var doc interface{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return doc, nil
}

func schemaErrors(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("config schema validation failed: %w", err)
	}

	errs := &ValidationErrors{}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add("", verr.Message)
	}
	return errs
}

// collectSchemaErrors adds the leaf causes of err, which carry the
// specific messages.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		errs.Add(fieldPath(err.InstanceLocation), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// fieldPath turns a JSON pointer like /stages/0/target into stages[0].target.
func fieldPath(pointer string) string {
	var sb strings.Builder
	for _, part := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		if part == "" {
			continue
		}
		if _, err := strconv.Atoi(part); err == nil {
			sb.WriteString("[" + part + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}
