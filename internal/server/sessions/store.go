// Package sessions keeps short-lived server-side state such as pending
// registrations and pending two-factor logins. Values are JSON encoded and
// expire after a caller-supplied TTL.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is a TTL key/value store for JSON-encodable values.
//
// Get and Take return common.ErrSessionNotFound for missing or expired keys.
// Take removes the key in the same step, so a value can be consumed only once.
type Store interface {
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dst any) error
	Take(ctx context.Context, key string, dst any) error
	Delete(ctx context.Context, key string) error
}

// NewID returns a random session identifier.
func NewID() string {
	return uuid.NewString()
}

func encode(value any) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode session value: %w", err)
	}
	return b, nil
}

func decode(b []byte, dst any) error {
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode session value: %w", err)
	}
	return nil
}
