// Package module implements spec §4.8's module runtime: a goja-hosted
// instance of Tangram's embedded JavaScript-like scripting dialect, with
// the same restricted host surface the native runtime's proxy exposes,
// plus the two-call module loader collaborator from spec §6.
package module

import (
	"context"
	"fmt"
	"io"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
)

// Loader is the spec §6 module loader collaborator: resolve a symbolic
// import relative to the module that's importing it, then load that
// module's source text.
type Loader interface {
	// Resolve maps a dotted import path, relative to referrer, to a
	// stable module identity (a File object's ID).
	Resolve(ctx context.Context, referrer id.ID, importPath string) (id.ID, error)
	// Load returns the module's source text.
	Load(ctx context.Context, moduleID id.ID) (string, error)
}

// StoreLoader implements Loader over the object store: a module is a File
// object whose blob contents are the source text and whose Dependencies
// map (spec §3 File "dependencies... reference -> referent") carries its
// import graph, keyed by the exact import string used to request it.
type StoreLoader struct {
	Store objectstore.Store
}

// Resolve looks importPath up in referrer's File.Dependencies.
func (l *StoreLoader) Resolve(ctx context.Context, referrer id.ID, importPath string) (id.ID, error) {
	b, _, err := l.Store.Get(ctx, referrer)
	if err != nil {
		return id.ID{}, fmt.Errorf("module: fetch referrer %s: %w", referrer, err)
	}
	obj, err := object.Decode(referrer.Kind(), b)
	if err != nil {
		return id.ID{}, fmt.Errorf("module: decode referrer %s: %w", referrer, err)
	}
	file, ok := obj.(*object.File)
	if !ok {
		return id.ID{}, fmt.Errorf("module: referrer %s is not a file", referrer)
	}
	ref, ok := file.Dependencies[importPath]
	if !ok {
		return id.ID{}, fmt.Errorf("module: %s has no dependency named %q", referrer, importPath)
	}
	return ref.Item, nil
}

// Load fetches moduleID (a File object) and returns its blob contents as
// text.
func (l *StoreLoader) Load(ctx context.Context, moduleID id.ID) (string, error) {
	b, _, err := l.Store.Get(ctx, moduleID)
	if err != nil {
		return "", fmt.Errorf("module: fetch %s: %w", moduleID, err)
	}
	obj, err := object.Decode(moduleID.Kind(), b)
	if err != nil {
		return "", fmt.Errorf("module: decode %s: %w", moduleID, err)
	}
	file, ok := obj.(*object.File)
	if !ok {
		return "", fmt.Errorf("module: %s is not a file", moduleID)
	}
	r, err := blob.NewReader(ctx, l.Store, file.Contents)
	if err != nil {
		return "", fmt.Errorf("module: open %s contents: %w", moduleID, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("module: read %s contents: %w", moduleID, err)
	}
	return string(data), nil
}
