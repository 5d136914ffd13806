package persona

import (
	"embed"
	"io/fs"
	"path"
	"sort"

	"github.com/pkg/errors"
)

//go:embed defaults/*.yaml
var defaultFS embed.FS

func loadDefaults() ([]*Persona, error) {
	names, err := fs.Glob(defaultFS, "defaults/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]*Persona, 0, len(names))
	for _, name := range names {
		data, err := defaultFS.ReadFile(name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", name)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse built-in persona %s", path.Base(name))
		}
		out = append(out, p)
	}
	return out, nil
}

// DefaultCatalog returns a catalog of the built-in personas.
func DefaultCatalog() (*MemoryCatalog, error) {
	personas, err := loadDefaults()
	if err != nil {
		return nil, err
	}
	return NewMemoryCatalog(personas...)
}
