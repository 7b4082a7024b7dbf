package client

import "context"

// VisionClient sends one prompt together with a base64 encoded image to a
// vision model and returns the model's plain-text reply.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
