package client

import (
	"context"
	"encoding/json"
)

// VisionClient sends one prompt plus one base64 JPEG to a vision model and
// returns its reply, constrained to a single JSON object. A non-nil schema
// further restricts the object to that JSON schema.
type VisionClient interface {
	QueryJSON(ctx context.Context, model, prompt, imgB64 string, schema json.RawMessage) (string, error)
}
