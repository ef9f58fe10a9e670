package dispatcher

import "encoding/json"

// BodyFields are the JSON body fields the dispatcher reads before routing:
// the requested model and any reasoning-effort hint already in the body.
type BodyFields struct {
	Model  string
	Effort string
}

// ParseJSONBody unmarshals raw into a generic object for field extraction
// and splicing. Returns an empty object (not an error) for an empty body,
// since an empty body is valid for some request shapes.
func ParseJSONBody(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// ExtractBodyFields reads model and reasoning.effort out of a parsed body.
func ExtractBodyFields(obj map[string]any) BodyFields {
	var f BodyFields
	if m, ok := obj["model"].(string); ok {
		f.Model = m
	}
	if reasoning, ok := obj["reasoning"].(map[string]any); ok {
		if e, ok := reasoning["effort"].(string); ok {
			f.Effort = e
		}
	}
	return f
}

// SpliceEffort writes effort into obj's reasoning.effort, creating the
// reasoning object if it wasn't already a map.
func SpliceEffort(obj map[string]any, effort string) {
	reasoning, ok := obj["reasoning"].(map[string]any)
	if !ok {
		reasoning = map[string]any{}
	}
	reasoning["effort"] = effort
	obj["reasoning"] = reasoning
}

// SpliceModel overwrites obj's model field, used after a model_mapping
// rewrite picks a new upstream-facing model name.
func SpliceModel(obj map[string]any, model string) {
	obj["model"] = model
}

// MarshalJSONBody serializes obj back to bytes for the outbound request.
// Re-encoding through encoding/json does not reproduce the original byte
// layout (key order, whitespace) — it preserves field values, not the
// original document's exact bytes.
func MarshalJSONBody(obj map[string]any) ([]byte, error) {
	return json.Marshal(obj)
}
