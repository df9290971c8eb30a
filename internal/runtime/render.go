package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tangramdotdev/tangram/internal/checkin"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
)

// ArtifactResolver checks out artifacts on demand and caches the result by
// ID, so a Command's Args/Env/Mounts only pay checkout cost once per
// artifact even when several reference the same one. Shared between the
// native and module runtimes so both render §9 Values identically.
type ArtifactResolver struct {
	Store    objectstore.Store
	CacheDir string

	mu   sync.Mutex
	done map[id.ID]string
}

// NewArtifactResolver returns a resolver that checks artifacts out under
// cacheDir, creating it if necessary.
func NewArtifactResolver(store objectstore.Store, cacheDir string) *ArtifactResolver {
	return &ArtifactResolver{Store: store, CacheDir: cacheDir, done: map[id.ID]string{}}
}

// Path returns the on-disk location of artifactID, checking it out on the
// first request and reusing the result afterward.
func (a *ArtifactResolver) Path(ctx context.Context, artifactID id.ID) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.done[artifactID]; ok {
		return p, nil
	}
	if err := os.MkdirAll(a.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("runtime: create artifact cache dir: %w", err)
	}
	dest := filepath.Join(a.CacheDir, artifactID.String())
	if _, err := os.Lstat(dest); err != nil {
		entry := checkin.Artifact{Artifact: artifactID}
		if err := checkin.Checkout(ctx, a.Store, entry, dest); err != nil {
			return "", fmt.Errorf("runtime: checkout %s: %w", artifactID, err)
		}
	}
	a.done[artifactID] = dest
	return dest, nil
}

// RenderTemplate substitutes each artifact component of comps with its
// checked-out path, concatenating the result (spec §9 Template value).
func (a *ArtifactResolver) RenderTemplate(ctx context.Context, comps []object.TemplateComponent) (string, error) {
	var b strings.Builder
	for _, c := range comps {
		if c.Artifact.IsZero() {
			b.WriteString(c.String)
			continue
		}
		p, err := a.Path(ctx, c.Artifact)
		if err != nil {
			return "", err
		}
		b.WriteString(p)
	}
	return b.String(), nil
}

// RenderValue renders v into a single string suitable for a native argv
// entry or environment value. Arrays/maps have no single-string rendering
// and are rejected; the module runtime renders those natively instead
// (see internal/runtime/module).
func (a *ArtifactResolver) RenderValue(ctx context.Context, v object.Value) (string, error) {
	switch v.Kind() {
	case object.ValueNull:
		return "", nil
	case object.ValueBool:
		return strconv.FormatBool(v.AsBool()), nil
	case object.ValueNumber:
		return strconv.FormatFloat(v.AsNumber(), 'g', -1, 64), nil
	case object.ValueString:
		return v.AsString(), nil
	case object.ValueBytes:
		return string(v.AsBytes()), nil
	case object.ValueTemplate:
		return a.RenderTemplate(ctx, v.AsTemplate())
	case object.ValueObject:
		return a.Path(ctx, v.AsObject())
	default:
		return "", fmt.Errorf("runtime: value kind %d has no scalar rendering", v.Kind())
	}
}
