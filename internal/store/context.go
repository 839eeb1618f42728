// Lookup contexts: values that name exactly one record file for a type.

package store

import (
	"reflect"
	"strconv"
	"time"

	"github.com/maruel/ksid"
)

// Context identifies one record of a given type. FileName must be a pure
// function of the value: two contexts are equal iff their file names are.
type Context interface {
	FileName() string
}

// Keyed is implemented by records that know their own context.
type Keyed interface {
	Context() Context
}

// Equal reports whether a and b designate the same record. Two nil contexts
// are equal.
func Equal(a, b Context) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.FileName() == b.FileName()
}

// String is a context whose file name is the string itself.
type String string

// FileName implements Context.
func (s String) FileName() string { return string(s) }

// Int is a context named by its decimal representation.
type Int int64

// FileName implements Context.
func (i Int) FileName() string { return strconv.FormatInt(int64(i), 10) }

// Time is a context named by its RFC 3339 representation in UTC with
// nanoseconds.
type Time time.Time

// FileName implements Context.
func (t Time) FileName() string { return time.Time(t).UTC().Format(time.RFC3339Nano) }

// ParseTime is the inverse of Time.FileName.
func ParseTime(name string) (Time, error) {
	t, err := time.Parse(time.RFC3339Nano, name)
	return Time(t), err
}

// ID is a context named by a ksid.
type ID ksid.ID

// FileName implements Context.
func (id ID) FileName() string { return ksid.ID(id).String() }

// NewID returns a context for a freshly generated ksid.
func NewID() ID { return ID(ksid.NewID()) }

// Default is the context of singleton records.
const Default = String("default")

// TypeName returns the directory name records of type T are stored under.
//
// It is the result of a TypeName() string method when T or *T has one,
// otherwise the Go type name with pointers dereferenced.
func TypeName[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if n, ok := reflect.New(t).Interface().(interface{ TypeName() string }); ok {
		return n.TypeName()
	}
	return t.Name()
}
