// Package sessionfile loads the delegation session package from a JSON file.
package sessionfile

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/delegation"
	"github.com/Strob0t/FeedbackForge/internal/domain/session"
)

//go:embed schema.json
var schemaSource string

const schemaURL = "https://feedbackforge.local/session.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader([]byte(schemaSource))); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Loader reads a session package from disk.
type Loader struct {
	path string
}

// New returns a Loader for path. Relative paths resolve against the directory
// of the running executable.
func New(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: session path is empty", domain.ErrConfig)
	}
	if filepath.IsAbs(path) {
		return &Loader{path: path}, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("%w: locate executable: %w", domain.ErrConfig, err)
	}
	return &Loader{path: ResolvePath(path, filepath.Dir(exe))}, nil
}

// ResolvePath joins a relative path onto base. Absolute paths are returned cleaned.
func ResolvePath(path, base string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

// Path returns the resolved file path.
func (l *Loader) Path() string { return l.path }

// Load reads, schema-checks and validates the package. The signed delegation
// is returned in normalized form. Every failure wraps domain.ErrConfig.
func (l *Loader) Load(ctx context.Context) (*session.Package, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: session package %s not found", domain.ErrConfig, l.path)
		}
		return nil, fmt.Errorf("%w: read session package: %w", domain.ErrConfig, err)
	}
	pkg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}

	slog.InfoContext(ctx, "session package loaded",
		"path", l.path,
		"chain_id", pkg.ChainID,
		"sender", pkg.Sender().Hex(),
		"delegator", pkg.DelegatorAccount,
	)
	return pkg, nil
}

// Parse decodes and validates a session package document.
func Parse(data []byte) (*session.Package, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: session package is not valid JSON: %w", domain.ErrConfig, err)
	}
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("%w: session schema: %w", domain.ErrConfig, err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: session package: %w", domain.ErrConfig, err)
	}

	var pkg session.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("%w: decode session package: %w", domain.ErrConfig, err)
	}
	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: session package: %w", domain.ErrConfig, err)
	}
	normalized, err := delegation.Normalize(pkg.SignedDelegation)
	if err != nil {
		return nil, fmt.Errorf("%w: session package: %w", domain.ErrConfig, err)
	}
	pkg.SignedDelegation = normalized
	return &pkg, nil
}
