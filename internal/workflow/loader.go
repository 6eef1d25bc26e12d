package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"mcp-gateway/backend/pkg/models"
)

// LoadFile reads a workflow definition from a YAML or JSON file.
func LoadFile(path string) (models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("failed to read workflow file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return decodeJSON(data)
	}
	return Parse(data)
}

// Parse decodes a YAML workflow definition. JSON documents are valid YAML and
// parse the same way. Steps may use the service/params aliases.
func Parse(data []byte) (models.WorkflowDefinition, error) {
	var doc any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("failed to parse workflow: %w", err)
	}

	// Round-trip through JSON so the step aliases and number types match what
	// the HTTP front-end produces.
	raw, err := json.Marshal(doc)
	if err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("failed to parse workflow: %w", err)
	}
	return decodeJSON(raw)
}

func decodeJSON(data []byte) (models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("failed to parse workflow: %w", err)
	}
	if len(def.Steps) == 0 && !bytes.Contains(data, []byte(`"steps"`)) {
		return models.WorkflowDefinition{}, fmt.Errorf("failed to parse workflow: no steps field")
	}
	return def, nil
}
