package dispatch

import (
	"errors"
	"fmt"

	"livewatch/internal/model"
)

type ErrorKind string

const (
	KindSend   ErrorKind = "send"
	KindEdit   ErrorKind = "edit"
	KindUpload ErrorKind = "upload"
)

// Error is a delivery failure (DispatchError). Target is nil for uploads,
// which are not tied to one destination.
type Error struct {
	Kind   ErrorKind
	Target *model.NotifyTarget
	Err    error
}

func (e *Error) Error() string {
	if e.Target != nil {
		return fmt.Sprintf("dispatch %s to %d/%d: %v", e.Kind, e.Target.ChatID, e.Target.ThreadID, e.Err)
	}
	return fmt.Sprintf("dispatch %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func IsDispatchError(err error) bool {
	var de *Error
	return errors.As(err, &de)
}
