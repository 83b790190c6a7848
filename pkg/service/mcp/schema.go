package mcp

import "github.com/google/jsonschema-go/jsonschema"

func ptr[T any](v T) *T { return &v }

func stringProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func objectSchema(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

var (
	queryInputSchema = objectSchema([]string{"query"}, map[string]*jsonschema.Schema{
		"query": stringProp("User query"),
	})

	processInputSchema = objectSchema([]string{"query"}, map[string]*jsonschema.Schema{
		"query":       stringProp("User query"),
		"suggestions": suggestionsSchema,
	})

	markInputSchema = objectSchema([]string{"message_id", "content"}, map[string]*jsonschema.Schema{
		"message_id": stringProp("ID of the message the memory is taken from"),
		"content":    stringProp("Text to remember"),
		"context":    stringProp("Why the user wants it remembered"),
		"tag":        stringProp("Optional category tag"),
	})

	emptyInputSchema = objectSchema(nil, map[string]*jsonschema.Schema{})

	suggestionsSchema = &jsonschema.Schema{
		Type:        "array",
		Description: "Suggestions to carry through to the result",
		Items: objectSchema([]string{"text"}, map[string]*jsonschema.Schema{
			"text":       stringProp("Suggestion text"),
			"confidence": {Type: "number", Minimum: ptr(0.0), Maximum: ptr(1.0)},
		}),
	}

	enhanceInputSchema = objectSchema([]string{"base_prompt", "query"}, map[string]*jsonschema.Schema{
		"base_prompt": stringProp("Prompt the relevant context is appended to"),
		"query":       stringProp("User query"),
		"snapshot": {
			Type:        "object",
			Description: "Context snapshot; the current one is used when omitted",
		},
		"suggestions": suggestionsSchema,
	})

	confidenceInputSchema = objectSchema([]string{"query", "labels"}, map[string]*jsonschema.Schema{
		"query": stringProp("User query"),
		"labels": {
			Type:        "array",
			Description: "Labels to score against the query",
			Items:       &jsonschema.Schema{Type: "string"},
		},
	})

	forgetInputSchema = objectSchema([]string{"id"}, map[string]*jsonschema.Schema{
		"id": stringProp("Memory ID"),
	})
)
