package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/maruel/fsrecord/internal/codec"
	"github.com/maruel/fsrecord/internal/persist"
	"github.com/maruel/fsrecord/internal/query"
	"github.com/maruel/fsrecord/internal/store"
	"github.com/maruel/ksid"
)

// Note is the record type managed by the tool.
type Note struct {
	ID      string    `json:"id" yaml:"id" jsonschema:"description=File name of the note"`
	Title   string    `json:"title,omitempty" yaml:"title,omitempty"`
	Body    string    `json:"body" yaml:"body"`
	Updated time.Time `json:"updated" yaml:"updated"`
}

// Context implements store.Keyed.
func (n Note) Context() store.Context {
	return store.String(n.ID)
}

var errUsage = errors.New("invalid usage")

// run executes one command and writes its output to w.
func run(ctx context.Context, m *persist.Manager, args []string, w io.Writer) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "put":
		return cmdPut(ctx, m, args, w)
	case "get":
		return cmdGet(m, args, w)
	case "rm":
		return cmdRm(ctx, m, args)
	case "ls":
		return cmdLs(ctx, m, args, w)
	case "watch":
		return cmdWatch(ctx, m, args, w)
	case "log":
		return cmdLog(ctx, m, args, w)
	case "schema":
		b, err := codec.Schema[Note]()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func oneKey(args []string) (store.Context, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one key", errUsage)
	}
	if err := store.ValidateKey(args[0]); err != nil {
		return nil, err
	}
	return store.String(args[0]), nil
}

func cmdPut(ctx context.Context, m *persist.Manager, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	key := fs.String("key", "", "Note key; a new id is generated when empty")
	title := fs.String("title", "", "Note title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	n := Note{
		ID:      *key,
		Title:   *title,
		Body:    strings.Join(fs.Args(), " "),
		Updated: time.Now().UTC(),
	}
	if n.ID == "" {
		n.ID = ksid.NewID().String()
	}
	if err := persist.SaveKeyed(ctx, m, n); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, n.ID)
	return err
}

func cmdGet(m *persist.Manager, args []string, w io.Writer) error {
	c, err := oneKey(args)
	if err != nil {
		return err
	}
	n, err := persist.Load[Note](m, c)
	if err != nil {
		return err
	}
	return printNote(m, n, w)
}

func cmdRm(ctx context.Context, m *persist.Manager, args []string) error {
	c, err := oneKey(args)
	if err != nil {
		return err
	}
	return persist.Delete[Note](ctx, m, c)
}

func cmdLs(ctx context.Context, m *persist.Manager, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	where := fs.String("where", "", "Filter expression over key, name, ext, size and modified")
	follow := fs.Bool("watch", false, "Print the list again on every change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	q := query.All()
	if *where != "" {
		var err error
		if q, err = query.Expr(*where); err != nil {
			return err
		}
	}
	if !*follow {
		keys, notes, err := persist.List[Note](m, q)
		if err != nil {
			return err
		}
		return printList(keys, notes, w)
	}

	o, err := persist.NewQuery[Note](m, q, nil)
	if err != nil {
		return err
	}
	defer o.Close()
	c, cancel := o.Subscribe()
	defer cancel()
	for {
		select {
		case <-c:
			if o.Loading() || o.State().Kind == persist.Placeholder {
				if err := o.ReadError(); err != nil {
					return err
				}
				continue
			}
			if err := printList(o.Keys(), o.Values(), w); err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, "--"); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func cmdWatch(ctx context.Context, m *persist.Manager, args []string, w io.Writer) error {
	c, err := oneKey(args)
	if err != nil {
		return err
	}
	o := persist.NewObject(m, Note{}, nil)
	defer o.Close()
	ch, cancel := o.Subscribe()
	defer cancel()
	if err := o.SetContext(c); err != nil {
		return err
	}
	shown := ""
	for {
		select {
		case <-ch:
			if o.Loading() {
				continue
			}
			var out strings.Builder
			if err := o.ReadError(); err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				fmt.Fprintf(&out, "%s: not found\n", c.FileName())
			} else if o.State().Kind != persist.Unmodified {
				continue
			} else if err := printNote(m, o.Value(), &out); err != nil {
				return err
			}
			if out.String() == shown {
				continue
			}
			shown = out.String()
			if _, err := io.WriteString(w, shown); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func cmdLog(ctx context.Context, m *persist.Manager, args []string, w io.Writer) error {
	c, err := oneKey(args)
	if err != nil {
		return err
	}
	repo := m.History()
	if repo == nil {
		return errors.New("history is disabled, run with -history or set GIT_HISTORY=true")
	}
	path, err := m.Layout().Path(store.TypeName[Note](), c)
	if err != nil {
		return err
	}
	commits, err := repo.Log(ctx, path, 0)
	if err != nil {
		return err
	}
	for _, cm := range commits {
		if _, err := fmt.Fprintf(w, "%.12s %s %s\n", cm.Hash, cm.When.Format(time.DateTime), cm.Message); err != nil {
			return err
		}
	}
	return nil
}

func printNote(m *persist.Manager, n Note, w io.Writer) error {
	c, err := codec.ByName(m.Layout().Ext)
	if err != nil {
		return err
	}
	b, err := c.Marshal(n)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func printList(keys []string, notes []Note, w io.Writer) error {
	for i, n := range notes {
		title := n.Title
		if title == "" {
			title, _, _ = strings.Cut(n.Body, "\n")
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", keys[i], title); err != nil {
			return err
		}
	}
	return nil
}
