package usecase

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.NewString()
}

func now() time.Time {
	return time.Now().UTC()
}

// objectOrEmpty defaults absent JSON documents to an empty object.
func objectOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`{}`)
	}
	return raw
}
