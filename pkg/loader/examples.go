package loader

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed examples/*.json examples/*.yaml
var examplesFS embed.FS

// Examples lists the bundled example graphs by name.
func Examples() []string {
	entries, err := fs.ReadDir(examplesFS, "examples")
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// ExampleFile returns the document file of a bundled example.
func ExampleFile(name string) (DocumentFile, bool) {
	for _, ext := range []string{".json", ".yaml"} {
		p := "examples/" + name + ext
		if _, err := fs.Stat(examplesFS, p); err == nil {
			return DocumentFile{ID: "example", Path: p, Format: FormatFromPath(p)}, true
		}
	}
	return DocumentFile{}, false
}

// Example parses a bundled example graph.
func Example(name string) (*GraphDocument, error) {
	file, ok := ExampleFile(name)
	if !ok {
		return nil, fmt.Errorf("unknown example %q (available: %s)", name, strings.Join(Examples(), ", "))
	}
	return LoadDocument(context.Background(), EmbeddedLoader{}, file)
}

// EmbeddedLoader serves the bundled examples.
type EmbeddedLoader struct{}

func (EmbeddedLoader) GetFileText(ctx context.Context, file DocumentFile) ([]byte, error) {
	return examplesFS.ReadFile(file.Path)
}
