package persist

import (
	"context"

	"github.com/maruel/ksid"
)

// Kind is the synchronization status of an observer.
type Kind int

const (
	// Placeholder means no value was loaded or set for the current context.
	Placeholder Kind = iota
	// Unmodified means the value matches the file as last read or written.
	Unmodified
	// PendingChanges means the value was edited locally and not saved yet.
	PendingChanges
)

func (k Kind) String() string {
	switch k {
	case Placeholder:
		return "placeholder"
	case Unmodified:
		return "unmodified"
	case PendingChanges:
		return "pending"
	default:
		return "unknown"
	}
}

// State is the status of an observer. Token is set only for PendingChanges
// and identifies the edit; tokens of later edits compare greater.
type State struct {
	Kind  Kind
	Token ksid.ID
}

func (s State) String() string {
	if s.Kind == PendingChanges {
		return s.Kind.String() + "(" + s.Token.String() + ")"
	}
	return s.Kind.String()
}

// Backend reads and writes record files. *store.Store implements it.
type Backend[T any] interface {
	Read(path string) (T, error)
	Write(ctx context.Context, path string, v T) error
	Delete(ctx context.Context, path string) error
	List(dir string) ([]string, error)
}
