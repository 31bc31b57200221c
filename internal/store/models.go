package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned for a missing user, profile or contribution.
var ErrNotFound = errors.New("store: not found")

type UserKind string

const (
	UserOwner   UserKind = "owner"
	UserSteward UserKind = "steward"
)

type User struct {
	ID          string
	DisplayName string
	Email       string
	Kind        UserKind
	CreatedAt   time.Time
}
