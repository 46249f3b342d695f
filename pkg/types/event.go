package types

import (
	"errors"
	"fmt"
)

// Role identifies which side of a transfer emitted an event
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// EventKind discriminates Event records
type EventKind int

const (
	EventStarted EventKind = iota
	EventConnected
	EventManifest
	EventItemProgress
	EventItemComplete
	EventCompleted
	EventCancelled
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventConnected:
		return "connected"
	case EventManifest:
		return "manifest"
	case EventItemProgress:
		return "progress"
	case EventItemComplete:
		return "item-complete"
	case EventCompleted:
		return "completed"
	case EventCancelled:
		return "cancelled"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Terminal reports whether the kind ends a session's event stream
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventCancelled || k == EventFailed
}

// Event is a single progress record. Which fields are meaningful depends on Kind:
//
//	Started       TotalItems, TotalBytes (zero when unknown)
//	Connected     Peer
//	Manifest      Names
//	ItemProgress  Item, Bytes, Total, Speed
//	ItemComplete  Item, Total
//	Completed     TotalItems, TotalBytes, Path
//	Cancelled     -
//	Failed        Err
type Event struct {
	Kind EventKind
	Role Role

	TotalItems int
	TotalBytes int64

	Peer  string
	Names []string

	Item  string
	Bytes int64
	Total int64
	Speed float64 // bytes per second since the item started moving

	Path string
	Err  error
}

// Name returns the event name in the form transfer:<role>:<state>
func (e Event) Name() string {
	return fmt.Sprintf("transfer:%s:%s", e.Role, e.Kind)
}

func (e Event) String() string {
	switch e.Kind {
	case EventStarted:
		return fmt.Sprintf("%s items=%d bytes=%d", e.Name(), e.TotalItems, e.TotalBytes)
	case EventConnected:
		return fmt.Sprintf("%s peer=%s", e.Name(), e.Peer)
	case EventManifest:
		return fmt.Sprintf("%s names=%d", e.Name(), len(e.Names))
	case EventItemProgress:
		return fmt.Sprintf("%s item=%s %d/%d", e.Name(), e.Item, e.Bytes, e.Total)
	case EventItemComplete:
		return fmt.Sprintf("%s item=%s", e.Name(), e.Item)
	case EventCompleted:
		return fmt.Sprintf("%s items=%d bytes=%d path=%s", e.Name(), e.TotalItems, e.TotalBytes, e.Path)
	case EventFailed:
		return fmt.Sprintf("%s err=%v", e.Name(), e.Err)
	default:
		return e.Name()
	}
}

// Status is the terminal state of a fetch
type Status int

const (
	StatusSuccess Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of a fetch. On success Path is the installed
// destination; on failure Items and Bytes count what had been verified
// before the error.
type Outcome struct {
	Status Status
	Path   string
	Items  int
	Bytes  int64
	Err    error
}

// Success builds a successful outcome
func Success(path string, items int, bytes int64) Outcome {
	return Outcome{Status: StatusSuccess, Path: path, Items: items, Bytes: bytes}
}

// Failure builds a failed or cancelled outcome from err. Errors wrapping
// ErrCancelled produce a cancelled outcome.
func Failure(err error, items int, bytes int64) Outcome {
	status := StatusFailed
	if errors.Is(err, ErrCancelled) {
		status = StatusCancelled
	}
	return Outcome{Status: status, Items: items, Bytes: bytes, Err: err}
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusSuccess:
		return fmt.Sprintf("Downloaded %d files, %d bytes to %s", o.Items, o.Bytes, o.Path)
	case StatusCancelled:
		return "Operation cancelled"
	default:
		return fmt.Sprintf("Transfer failed: %v", o.Err)
	}
}
