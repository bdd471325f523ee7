package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decodeStrict parses raw config bytes into v. YAML input (picked by file
// extension) is normalized to a JSON tree first so a single strict decoder
// covers both formats: unknown keys and trailing tokens are rejected
// uniformly, which is what lets the watcher refuse a bad edit before it ever
// reaches a running runner.
func decodeStrict(path string, data []byte, v any) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var tree any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("yaml unmarshal: %w", err)
		}
		j, err := json.Marshal(stringifyKeys(tree))
		if err != nil {
			return fmt.Errorf("yaml->json marshal: %w", err)
		}
		data = j
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("invalid config: trailing data")
		}
		return err
	}
	return nil
}

// stringifyKeys rewrites the YAML tree so every map key is a string and the
// result survives json.Marshal.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return out
	case []any:
		for i, v := range x {
			x[i] = stringifyKeys(v)
		}
		return x
	default:
		return in
	}
}
