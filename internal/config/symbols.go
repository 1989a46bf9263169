package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/util"
)

// Symbols maps a standard symbol (e.g. "510300.SS") to its grid parameters.
type Symbols map[string]models.SymbolConfig

// Names returns the symbols in sorted order.
func (s Symbols) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadSymbols reads and validates a symbols.json file.
// Keys are normalised to the .SS/.SZ form.
func LoadSymbols(path string) (Symbols, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is the operator-provided symbols file
	if err != nil {
		return nil, fmt.Errorf("reading symbols file: %w", err)
	}
	return ParseSymbols(data)
}

// ParseSymbols decodes and validates symbols.json content.
func ParseSymbols(data []byte) (Symbols, error) {
	var raw map[string]models.SymbolConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing symbols: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("symbols file defines no symbols")
	}
	out := make(Symbols, len(raw))
	for name, cfg := range raw {
		std := util.ToStandardSymbol(name)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("symbol %s: %w", std, err)
		}
		if _, dup := out[std]; dup {
			return nil, fmt.Errorf("symbol %s listed twice", std)
		}
		out[std] = cfg
	}
	return out, nil
}

// SymbolsDiff describes how a reloaded symbols file differs from the running set.
type SymbolsDiff struct {
	Added   []string
	Removed []string
	Changed []string
	Symbols Symbols
}

// Empty reports whether nothing changed.
func (d SymbolsDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffSymbols compares two symbol sets.
func DiffSymbols(old, updated Symbols) SymbolsDiff {
	d := SymbolsDiff{Symbols: updated}
	for _, name := range updated.Names() {
		prev, ok := old[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case prev != updated[name]:
			d.Changed = append(d.Changed, name)
		}
	}
	for _, name := range old.Names() {
		if _, ok := updated[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	return d
}

// SymbolsWatcher detects changes to symbols.json by modification time.
type SymbolsWatcher struct {
	path    string
	modTime time.Time
	current Symbols
}

// NewSymbolsWatcher loads path and remembers its modification time.
func NewSymbolsWatcher(path string) (*SymbolsWatcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat symbols file: %w", err)
	}
	syms, err := LoadSymbols(path)
	if err != nil {
		return nil, err
	}
	return &SymbolsWatcher{path: path, modTime: info.ModTime(), current: syms}, nil
}

// Path returns the watched file.
func (w *SymbolsWatcher) Path() string { return w.path }

// Current returns the last successfully loaded symbols.
func (w *SymbolsWatcher) Current() Symbols { return w.current }

// Check reloads the file if its modification time changed. On a parse error the
// previous symbols are kept and the new modification time is remembered so a broken
// file is reported once.
func (w *SymbolsWatcher) Check() (SymbolsDiff, bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return SymbolsDiff{}, false, fmt.Errorf("stat symbols file: %w", err)
	}
	if info.ModTime().Equal(w.modTime) {
		return SymbolsDiff{}, false, nil
	}
	w.modTime = info.ModTime()
	syms, err := LoadSymbols(w.path)
	if err != nil {
		return SymbolsDiff{}, false, err
	}
	diff := DiffSymbols(w.current, syms)
	w.current = syms
	return diff, true, nil
}
