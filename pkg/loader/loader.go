package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// DocumentFormat is the encoding of an authoring document.
type DocumentFormat string

const (
	FormatJSON DocumentFormat = "json"
	FormatYAML DocumentFormat = "yaml"
)

// DocumentFile identifies a document to fetch. Path is a local path or an
// s3://bucket/key URI.
type DocumentFile struct {
	ID     string
	Path   string
	Format DocumentFormat
}

// NewDocumentFile builds a DocumentFile and infers its format from the
// path extension. Unknown extensions are treated as JSON.
func NewDocumentFile(path string) DocumentFile {
	return DocumentFile{Path: path, Format: FormatFromPath(path)}
}

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) DocumentFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// DocumentLoader fetches raw document bytes. Implementations may read from
// disk, object storage or memory.
type DocumentLoader interface {
	GetFileText(ctx context.Context, file DocumentFile) ([]byte, error)
}

// CacheKey returns the key loaders cache a file under.
func CacheKey(file DocumentFile) string {
	return file.ID + ":" + file.Path
}

// ParseS3URI splits an s3://bucket/key URI. ok is false for any other path.
func ParseS3URI(path string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(path, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Router dispatches s3:// paths to Remote and everything else to Local.
type Router struct {
	Local  DocumentLoader
	Remote DocumentLoader
}

func (r *Router) GetFileText(ctx context.Context, file DocumentFile) ([]byte, error) {
	if _, _, ok := ParseS3URI(file.Path); ok {
		if r.Remote == nil {
			return nil, fmt.Errorf("no object storage configured for %s", file.Path)
		}
		return r.Remote.GetFileText(ctx, file)
	}
	if r.Local == nil {
		return nil, fmt.Errorf("no local loader configured for %s", file.Path)
	}
	return r.Local.GetFileText(ctx, file)
}

// LoadDocument fetches and parses a graph document.
func LoadDocument(ctx context.Context, l DocumentLoader, file DocumentFile) (*GraphDocument, error) {
	data, err := l.GetFileText(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.Path, err)
	}
	return ParseDocument(data, file.Format)
}

// LoadExpectations fetches and parses a standalone expectation document.
func LoadExpectations(ctx context.Context, l DocumentLoader, file DocumentFile) (*ExpectationsDocument, error) {
	data, err := l.GetFileText(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.Path, err)
	}
	return ParseExpectations(data, file.Format)
}
