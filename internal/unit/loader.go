package unit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
)

// ErrNotFound is returned by loaders for names they do not know.
var ErrNotFound = errors.New("unit: not found")

// Loader returns the raw bytes of a unit by qualified name. Bytes are
// either the encoded binary form or TOML source.
type Loader interface {
	Find(name string) ([]byte, error)
}

// Load finds and decodes a unit, accepting either form.
func Load(l Loader, name string) (*Unit, error) {
	data, err := l.Find(name)
	if err != nil {
		return nil, err
	}
	u, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("unit: load %s: %w", name, err)
	}
	if u.Name != name {
		return nil, fmt.Errorf("unit: load %s: file declares %s", name, u.Name)
	}
	return u, nil
}

// Parse decodes data as an encoded unit if it carries the magic, and as TOML
// source otherwise.
func Parse(data []byte) (*Unit, error) {
	if IsEncoded(data) {
		return Decode(data)
	}
	return ParseSource(data)
}

// MapLoader serves units from memory.
type MapLoader map[string][]byte

// Find implements Loader.
func (m MapLoader) Find(name string) ([]byte, error) {
	data, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, nil
}

// Add encodes u and stores it under its name.
func (m MapLoader) Add(u *Unit) error {
	data, err := Encode(u)
	if err != nil {
		return err
	}
	m[u.Name] = data
	return nil
}

// AddSource stores TOML source under the name it declares.
func (m MapLoader) AddSource(src string) error {
	u, err := ParseSource([]byte(src))
	if err != nil {
		return err
	}
	m[u.Name] = []byte(src)
	return nil
}

// FSLoader serves units from a filesystem. A unit named "a/B" is looked up
// as "a/B.cgu" and then "a/B.toml".
type FSLoader struct {
	fsys fs.FS
}

// NewFSLoader returns a loader reading from fsys.
func NewFSLoader(fsys fs.FS) *FSLoader {
	return &FSLoader{fsys: fsys}
}

// Find implements Loader.
func (l *FSLoader) Find(name string) ([]byte, error) {
	for _, ext := range []string{".cgu", ".toml"} {
		data, err := fs.ReadFile(l.fsys, path.Clean(name)+ext)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("unit: read %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Chain consults loaders in order and returns the first hit.
type Chain []Loader

// Find implements Loader.
func (c Chain) Find(name string) ([]byte, error) {
	for _, l := range c {
		data, err := l.Find(name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// DirLoader returns a loader over the given directories, searched in order.
func DirLoader(dirs ...string) Loader {
	c := make(Chain, 0, len(dirs))
	for _, d := range dirs {
		c = append(c, NewFSLoader(os.DirFS(d)))
	}
	return c
}
