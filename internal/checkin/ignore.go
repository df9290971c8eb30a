// Package checkin implements the filesystem collaborator from spec §4.4:
// checkin maps a path to a content-addressed artifact, and checkout
// materializes an artifact back onto disk.
package checkin

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnoreFile is the per-directory ignore file name checkin looks
// for, analogous to .gitignore.
const DefaultIgnoreFile = ".tangramignore"

// IgnoreConfig configures the layered ignore matcher.
type IgnoreConfig struct {
	// FileName is the per-directory ignore file name; DefaultIgnoreFile if empty.
	FileName string
	// Global holds glob patterns (doublestar syntax) applied tree-wide,
	// independent of any per-directory file.
	Global []string
	// GlobalWins decides precedence when a path matches both a
	// per-directory pattern and a global pattern with conflicting sense
	// (one says ignore, the other says keep isn't expressible here since
	// these are pure ignore-match lists, not allow-lists; GlobalWins only
	// matters when a later per-directory pattern would otherwise be
	// layered on top — kept as an explicit switch per the resolved Open
	// Question: default is false, meaning the nearest per-directory file
	// takes precedence over the global pattern list).
	GlobalWins bool
}

// Ignore is a layered gitignore-like matcher: a global pattern list plus
// per-directory override files discovered while walking.
type Ignore struct {
	cfg        IgnoreConfig
	root       string
	global     []string
	perDir     map[string][]string // directory (relative to root) -> patterns
	dirHasFile map[string]bool
}

// NewIgnore constructs a matcher rooted at root.
func NewIgnore(root string, cfg IgnoreConfig) *Ignore {
	if cfg.FileName == "" {
		cfg.FileName = DefaultIgnoreFile
	}
	return &Ignore{
		cfg:        cfg,
		root:       root,
		global:     cfg.Global,
		perDir:     make(map[string][]string),
		dirHasFile: make(map[string]bool),
	}
}

// loadDir reads dirRel's ignore file (if any) once and caches its patterns.
func (ig *Ignore) loadDir(dirRel string) ([]string, bool, error) {
	if p, ok := ig.perDir[dirRel]; ok {
		return p, ig.dirHasFile[dirRel], nil
	}
	path := filepath.Join(ig.root, dirRel, ig.cfg.FileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		ig.perDir[dirRel] = nil
		ig.dirHasFile[dirRel] = false
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	ig.perDir[dirRel] = patterns
	ig.dirHasFile[dirRel] = true
	return patterns, true, nil
}

// Matches reports whether relPath (slash-separated, relative to root)
// should be excluded from checkin. dirRel is relPath's containing
// directory, also relative to root ("" for the root itself).
//
// When a directory carries its own ignore file, that file's patterns
// decide the outcome for paths in that directory on their own — it fully
// supersedes the global list rather than merely adding to it — unless
// GlobalWins reverses which side supersedes the other.
func (ig *Ignore) Matches(relPath, dirRel string) (bool, error) {
	name := filepath.Base(relPath)
	perDir, hasFile, err := ig.loadDir(dirRel)
	if err != nil {
		return false, err
	}

	if !hasFile {
		return matchAny(ig.global, relPath, name)
	}
	if ig.cfg.GlobalWins {
		return matchAny(ig.global, relPath, name)
	}
	return matchAny(perDir, relPath, name)
}

func matchAny(patterns []string, relPath, name string) (bool, error) {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, relPath); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
		if ok, err := doublestar.Match(p, name); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}
