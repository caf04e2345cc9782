package api

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/banyanhq/banyan/pkg/models"
)

// ToolParams converts broker-discovered descriptors into the Anthropic tool
// format. Tool names must be unique within one request, so when two servers
// offer the same tool the first descriptor wins, matching broker routing.
func ToolParams(descriptors []models.ToolDescriptor) []anthropic.ToolUnionParam {
	params := make([]anthropic.ToolUnionParam, 0, len(descriptors))
	seen := make(map[string]bool, len(descriptors))

	for _, d := range descriptors {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true

		params = append(params, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schemaProperties(d.InputSchema),
					Required:   d.Required,
				},
			},
		})
	}

	return params
}

// schemaProperties pulls the properties object out of a JSON schema.
func schemaProperties(schema json.RawMessage) map[string]interface{} {
	if len(schema) == 0 {
		return map[string]interface{}{}
	}

	var parsed struct {
		Properties map[string]interface{} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil || parsed.Properties == nil {
		return map[string]interface{}{}
	}
	return parsed.Properties
}
