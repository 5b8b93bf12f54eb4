package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/chrisyu/mcphost/pkg/config"
)

// SchemaCmd generates a JSON Schema for the host's own YAML config struct,
// so external tooling (editors, config-builder UIs) can validate or
// autocomplete a mcphost.yaml without hand-maintaining a duplicate schema.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://mcphost.dev/schemas/config.json"
	schema.Title = "mcphost Configuration Schema"
	schema.Description = "Configuration schema for the MCP host's mcphost.yaml"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
