package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// envFlags maps the .env keys to the flags they default.
var envFlags = map[string]string{
	"LOG_LEVEL":       "log-level",
	"FSRECORD_FORMAT": "format",
	"GIT_HISTORY":     "history",
}

// loadDotEnv reads KEY=value lines from <dataDir>/.env. A missing file is
// empty. Values may be quoted.
func loadDotEnv(dataDir string) (map[string]string, error) {
	f, err := os.Open(filepath.Join(dataDir, ".env"))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	env := map[string]string{}
	s := bufio.NewScanner(f)
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf(".env:%d: expected KEY=value", n)
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		switch {
		case len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'':
			v = v[1 : len(v)-1]
		case strings.HasPrefix(v, `"`):
			if v, err = strconv.Unquote(v); err != nil {
				return nil, fmt.Errorf(".env:%d: %w", n, err)
			}
		}
		env[k] = v
	}
	return env, s.Err()
}

// applyDotEnv sets the flags not given on the command line from env.
func applyDotEnv(flags *flag.FlagSet, env map[string]string) error {
	set := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for key, name := range envFlags {
		v, ok := env[key]
		if !ok || set[name] {
			continue
		}
		if err := flags.Set(name, v); err != nil {
			return fmt.Errorf("invalid %s in .env: %w", key, err)
		}
	}
	return nil
}
