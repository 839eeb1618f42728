package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolver maps a record type and context to a file path.
type Resolver interface {
	// Dir returns the directory holding every record of typeName.
	Dir(typeName string) string
	// Path returns the file for the record of typeName at c.
	Path(typeName string, c Context) (string, error)
}

// Layout stores records as <Root>/db/<TypeName>/<key>.<Ext>.
type Layout struct {
	Root string
	Ext  string
}

// Dir implements Resolver.
func (l Layout) Dir(typeName string) string {
	return filepath.Join(l.Root, "db", typeName)
}

// Path implements Resolver.
func (l Layout) Path(typeName string, c Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("%w: nil context", ErrInvalidKey)
	}
	key := c.FileName()
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.Dir(typeName), key+"."+l.Ext), nil
}

// ValidateKey rejects keys that would not map to a single visible file in
// the type directory.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasPrefix(key, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidKey, key)
	case strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, filepath.Separator):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, key)
	}
	return nil
}

// KeyOf returns the key of a record file path, the base name without
// extension.
func KeyOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
