package a2a

import "github.com/google/uuid"

// PushConfig registers an outbound webhook for a task. One task may carry
// any number of configs; each delivery loop is independent.
type PushConfig struct {
	// ID is the generated, opaque config identifier.
	ID string `json:"id"`
	// TaskID binds the config to a task.
	TaskID string `json:"taskId"`
	// URL is the webhook destination. Required.
	URL string `json:"url"`
	// Token, when set, is forwarded as the x-a2a-token header.
	Token string `json:"token,omitempty"`
	// HMACSecret, when set, enables x-a2a-signature/x-a2a-timestamp.
	HMACSecret string `json:"hmacSecret,omitempty"`
	// JWTSecret, when set, enables an HS256 Authorization bearer token.
	JWTSecret   string `json:"jwtSecret,omitempty"`
	JWTIssuer   string `json:"jwtIssuer,omitempty"`
	JWTAudience string `json:"jwtAudience,omitempty"`
	JWTKid      string `json:"jwtKid,omitempty"`
}

// NewPushConfig assigns a fresh config id, generating task bindings as the
// store expects them.
func NewPushConfig(taskID, url string) *PushConfig {
	return &PushConfig{
		ID:     uuid.NewString(),
		TaskID: taskID,
		URL:    url,
	}
}
