// Package dialog renders the canned phrases the skill speaks itself, such as
// the apology when no answer could be obtained.
//
// Phrases live in locale/<lang>/<name>.dialog files, one variant per line.
// Blank lines and lines starting with '#' are ignored. A random variant is
// picked on every render so that repeated failures do not sound robotic.
package dialog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"path"
	"strings"
	"sync"
)

//go:embed locale
var localeFS embed.FS

// ErrNotFound is returned when no dialog file exists for a name in either the
// requested or the fallback language.
var ErrNotFound = errors.New("dialog: not found")

// DefaultLang is used when a requested language has no dialog file.
const DefaultLang = "en-us"

// Catalog loads dialog files from a file system. It caches parsed files.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	fsys fs.FS
	pick func(n int) int

	mu    sync.Mutex
	cache map[string][]string
}

// Option configures a [Catalog].
type Option func(*Catalog)

// WithFS reads dialog files from fsys instead of the built-in set. fsys must
// contain a top-level "locale" directory.
func WithFS(fsys fs.FS) Option {
	return func(c *Catalog) { c.fsys = fsys }
}

// WithPicker replaces the random variant selection. pick receives the number
// of variants and returns the index to use.
func WithPicker(pick func(n int) int) Option {
	return func(c *Catalog) { c.pick = pick }
}

// New returns a Catalog over the built-in dialog files.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		fsys:  localeFS,
		pick:  rand.IntN,
		cache: make(map[string][]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Render returns one variant of the named dialog in lang, falling back to
// [DefaultLang].
func (c *Catalog) Render(lang, name string) (string, error) {
	lang = strings.ToLower(lang)
	variants, err := c.variants(lang, name)
	if errors.Is(err, fs.ErrNotExist) && lang != DefaultLang {
		variants, err = c.variants(DefaultLang, name)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, lang, name)
	}
	if err != nil {
		return "", err
	}
	return variants[c.pick(len(variants))], nil
}

func (c *Catalog) variants(lang, name string) ([]string, error) {
	file := path.Join("locale", lang, name+".dialog")

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache[file]; ok {
		return v, nil
	}

	data, err := fs.ReadFile(c.fsys, file)
	if err != nil {
		return nil, err
	}
	var v []string
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v = append(v, line)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("dialog: %s has no variants", file)
	}
	c.cache[file] = v
	return v, nil
}
