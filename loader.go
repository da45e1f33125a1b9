package cascada

import (
	stderrors "errors"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/geleto/cascada/errors"
)

// Loader finds template source by name.
type Loader interface {
	// Source returns the template text. A missing template must be reported
	// with an error matching errors.NotFound in the load phase.
	Source(name string) (string, error)
}

// MapLoader serves templates from memory.
type MapLoader map[string]string

func (m MapLoader) Source(name string) (string, error) {
	src, ok := m[name]
	if !ok {
		return "", errors.NotFound(errors.PhaseLoad, "template", name)
	}
	return src, nil
}

// Names returns the template names in sorted order.
func (m MapLoader) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileSystemLoader serves templates from a file system, such as os.DirFS
// or an embed.FS.
type FileSystemLoader struct {
	FS fs.FS
	// Extension is appended to names without one, e.g. ".njk".
	Extension string
}

// NewFileSystemLoader returns a loader reading from fsys.
func NewFileSystemLoader(fsys fs.FS, ext string) *FileSystemLoader {
	return &FileSystemLoader{FS: fsys, Extension: ext}
}

func (l *FileSystemLoader) Source(name string) (string, error) {
	p := path.Clean(strings.TrimPrefix(name, "/"))
	if !fs.ValidPath(p) {
		return "", errors.InvalidInput(errors.PhaseLoad, "invalid template path "+name)
	}
	if l.Extension != "" && path.Ext(p) == "" {
		p += l.Extension
	}
	data, err := fs.ReadFile(l.FS, p)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", errors.NotFound(errors.PhaseLoad, "template", name)
		}
		return "", errors.New(errors.PhaseLoad, errors.KindInternal).
			Template(name).
			Detail("read %s", p).
			Cause(err).
			Build()
	}
	return string(data), nil
}
