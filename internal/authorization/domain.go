package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Actor is the authenticated caller.
type Actor struct {
	AccountID snowflake.ID
	Role      string
}

type Service interface {
	// Authorize allows action on object when the actor's role grants it for
	// any record, or grants it for own records and ownerID is the actor.
	Authorize(ctx context.Context, actor Actor, object string, action string, ownerID *snowflake.ID) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
