// Package query selects record files in a type directory.
package query

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/maruel/fsrecord/internal/store"
)

// Lister enumerates the record files of a directory.
type Lister func(dir string) ([]string, error)

// Query resolves to a set of record files. Order is irrelevant.
type Query interface {
	Paths(dir string, list Lister) ([]string, error)
	String() string
}

// All selects every record of the type.
func All() Query {
	return all{}
}

type all struct{}

func (all) Paths(dir string, list Lister) ([]string, error) {
	return list(dir)
}

func (all) String() string { return "all" }

// Keys selects the records with the given keys that exist.
func Keys(keys ...string) Query {
	return keySet(slices.Clone(keys))
}

type keySet []string

func (k keySet) Paths(dir string, list Lister) ([]string, error) {
	paths, err := list(dir)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(paths, func(p string) bool {
		return !slices.Contains(k, store.KeyOf(p))
	}), nil
}

func (k keySet) String() string { return "keys(" + strings.Join(k, ",") + ")" }

// File is the environment a predicate runs against.
type File struct {
	Key      string    `expr:"key"`
	Name     string    `expr:"name"`
	Ext      string    `expr:"ext"`
	Size     int64     `expr:"size"`
	Modified time.Time `expr:"modified"`
}

var errEmptyExpr = errors.New("expression must not be empty")

// Expr selects the records for which expression evaluates to true, for
// example `int(key) % 2 == 0` or `size > 100`. Files on which evaluation
// fails are not selected.
func Expr(expression string) (Query, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errEmptyExpr
	}
	program, err := expr.Compile(expression, expr.Env(File{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expression, err)
	}
	return &predicate{expression: expression, program: program}, nil
}

type predicate struct {
	expression string
	program    *vm.Program
}

func (p *predicate) Paths(dir string, list Lister) ([]string, error) {
	paths, err := list(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			// Raced with a deletion.
			continue
		}
		base := filepath.Base(path)
		env := File{
			Key:      store.KeyOf(path),
			Name:     base,
			Ext:      strings.TrimPrefix(filepath.Ext(base), "."),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		}
		ok, err := expr.Run(p.program, env)
		if err != nil {
			slog.Debug("Query predicate failed", "expr", p.expression, "path", path, "err", err)
			continue
		}
		if ok.(bool) {
			out = append(out, path)
		}
	}
	return out, nil
}

func (p *predicate) String() string { return p.expression }
