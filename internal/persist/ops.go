package persist

import (
	"context"

	"github.com/maruel/fsrecord/internal/query"
	"github.com/maruel/fsrecord/internal/store"
)

func pathOf[T any](m *Manager, c store.Context) (string, error) {
	return m.layout.Path(store.TypeName[T](), c)
}

// Save writes v as the record of c.
func Save[T any](ctx context.Context, m *Manager, c store.Context, v T) error {
	path, err := pathOf[T](m, c)
	if err != nil {
		return err
	}
	return backendFor[T](m).Write(ctx, path, v)
}

// SaveKeyed writes a record that knows its own context.
func SaveKeyed[T store.Keyed](ctx context.Context, m *Manager, v T) error {
	return Save(ctx, m, v.Context(), v)
}

// Load reads the record of c. A record that was never saved wraps
// store.ErrNotFound.
func Load[T any](m *Manager, c store.Context) (T, error) {
	path, err := pathOf[T](m, c)
	if err != nil {
		var zero T
		return zero, err
	}
	return backendFor[T](m).Read(path)
}

// Delete removes the record of c. Deleting an absent record succeeds.
func Delete[T any](ctx context.Context, m *Manager, c store.Context) error {
	path, err := pathOf[T](m, c)
	if err != nil {
		return err
	}
	return backendFor[T](m).Delete(ctx, path)
}

// List returns the keys and values of the records matching q, ordered by
// file name. Undecodable records are skipped.
func List[T any](m *Manager, q query.Query) ([]string, []T, error) {
	if q == nil {
		q = query.All()
	}
	return readAll(backendFor[T](m), m.layout.Dir(store.TypeName[T]()), q)
}
