package adapter

import (
	"context"

	"gorm.io/datatypes"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one turn of the conversation sent to a model.
type Message struct {
	Role    Role
	Content string
}

// Params is the decoded, typed form of a Model's dynamic parameter bag
// Only fields explicitly enabled in the source bag are non-nil; a
// nil field must be omitted entirely from the outbound request body.
type Params struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	TopK             *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
	StopSequences    []string
}

// paramField is the wire shape of one entry in a Model's parameter bag:
// {"enabled": bool, "value": ...}.
type paramField struct {
	Enabled bool        `json:"enabled"`
	Value   interface{} `json:"value"`
}

// ParseParams decodes a Model's raw dynamic parameter bag into a typed
// Params value, dropping any parameter whose enabled flag is false or
// missing, and ignoring unknown parameter names.
func ParseParams(raw datatypes.JSONMap) Params {
	var out Params
	if raw == nil {
		return out
	}

	get := func(name string) (paramField, bool) {
		value, ok := raw[name]
		if !ok {
			return paramField{}, false
		}
		asMap, ok := value.(map[string]interface{})
		if !ok {
			return paramField{}, false
		}
		enabled, _ := asMap["enabled"].(bool)
		return paramField{Enabled: enabled, Value: asMap["value"]}, true
	}

	asFloat := func(v interface{}) (float64, bool) {
		f, ok := v.(float64)
		return f, ok
	}

	if f, ok := get("temperature"); ok && f.Enabled {
		if v, ok := asFloat(f.Value); ok {
			out.Temperature = &v
		}
	}
	if f, ok := get("max_tokens"); ok && f.Enabled {
		if v, ok := asFloat(f.Value); ok {
			n := int(v)
			out.MaxTokens = &n
		}
	}
	if f, ok := get("top_p"); ok && f.Enabled {
		if v, ok := asFloat(f.Value); ok {
			out.TopP = &v
		}
	}
	if f, ok := get("top_k"); ok && f.Enabled {
		if v, ok := asFloat(f.Value); ok {
			n := int(v)
			out.TopK = &n
		}
	}
	if f, ok := get("frequency_penalty"); ok && f.Enabled {
		if v, ok := asFloat(f.Value); ok {
			out.FrequencyPenalty = &v
		}
	}
	if f, ok := get("presence_penalty"); ok && f.Enabled {
		if v, ok := asFloat(f.Value); ok {
			out.PresencePenalty = &v
		}
	}
	if f, ok := get("stop_sequences"); ok && f.Enabled {
		if list, ok := f.Value.([]interface{}); ok && len(list) > 0 {
			stops := make([]string, 0, len(list))
			for _, item := range list {
				if s, ok := item.(string); ok {
					stops = append(stops, s)
				}
			}
			if len(stops) > 0 {
				out.StopSequences = stops
			}
		}
	}

	return out
}

// ProviderConfig carries the connection details an adapter needs to reach a
// provider: its normalized base URL and optional credential.
type ProviderConfig struct {
	BaseURL    string
	Credential string
}

// OnToken is invoked with each incremental text delta during a streaming call.
type OnToken func(delta string)

// Client is the uniform interface every adapter kind implements.
type Client interface {
	// Complete performs a non-streaming completion and returns the full text.
	Complete(ctx context.Context, cfg ProviderConfig, modelID string, messages []Message, params Params) (string, error)

	// Stream performs a streaming completion, invoking onToken for each
	// incremental delta, and returns the final accumulated text.
	Stream(ctx context.Context, cfg ProviderConfig, modelID string, messages []Message, params Params, onToken OnToken) (string, error)
}
