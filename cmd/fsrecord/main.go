// Package main is the fsrecord command line tool.
//
// fsrecord stores notes as one file per record under <data-dir>/db/Note/ and
// can follow changes made by other processes. Configuration is read from CLI
// flags and <data-dir>/.env for anything not set on the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/fsrecord/internal/codec"
	"github.com/maruel/fsrecord/internal/history"
	"github.com/maruel/fsrecord/internal/persist"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fsrecord: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	format := flag.String("format", "json", "Record file format (json, yaml)")
	gitHistory := flag.Bool("history", false, "Commit every change to a git repository in the data directory")
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Println(versionString())
		return nil
	}
	if flag.NArg() == 0 {
		usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	env, err := loadDotEnv(*dataDir)
	if err != nil {
		return err
	}
	if err := applyDotEnv(flag.CommandLine, env); err != nil {
		return err
	}

	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case time.Time:
				skip = t.IsZero()
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	})))

	c, err := codec.ByName(*format)
	if err != nil {
		return err
	}
	cfg := persist.Config{Root: *dataDir, Codec: c}
	if *gitHistory {
		if cfg.History, err = history.Open(*dataDir, "fsrecord", "fsrecord@localhost"); err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
	}
	m, err := persist.New(cfg)
	if err != nil {
		return err
	}
	err = run(ctx, m, flag.Args(), os.Stdout)
	return errors.Join(err, m.Close())
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: fsrecord [flags] <command> [args]\n\n")
	fmt.Fprintf(out, "commands:\n")
	fmt.Fprintf(out, "  put [-key k] [-title t] text...  store a note, printing its key\n")
	fmt.Fprintf(out, "  get <key>                        print a note\n")
	fmt.Fprintf(out, "  rm <key>                         delete a note\n")
	fmt.Fprintf(out, "  ls [-where expr] [-watch]        list notes, optionally following changes\n")
	fmt.Fprintf(out, "  watch <key>                      print a note every time it changes\n")
	fmt.Fprintf(out, "  log <key>                        show the history of a note\n")
	fmt.Fprintf(out, "  schema                           print the JSON schema of notes\n\n")
	fmt.Fprintf(out, "flags:\n")
	flag.PrintDefaults()
}

func versionString() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "fsrecord unknown"
	}
	v := info.Main.Version
	if v == "" || v == "(devel)" {
		v = "dev"
	}
	return fmt.Sprintf("fsrecord %s (%s)", v, info.GoVersion)
}
