package session

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so expiry is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts session id generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random (version 4) UUIDs from crypto/rand.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return ""
	}
	return id.String()
}
