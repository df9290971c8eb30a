package object

import (
	"fmt"
	"sort"

	"github.com/tangramdotdev/tangram/internal/checksum"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/wire"
)

const (
	execVariantArtifact = 0
	execVariantModule   = 1
	execVariantPath     = 2
)

// CommandExecutableArtifact runs a binary found at an optional subpath
// inside an artifact tree.
type CommandExecutableArtifact struct {
	Artifact id.ID
	Subpath  string
}

// CommandExecutableModule runs a scripted module (spec §4.8's module
// runtime): Kind names the module dialect, Referent resolves the module.
type CommandExecutableModule struct {
	Kind     string
	Referent Referent
}

// CommandExecutable is the tagged union of ways a Command names what to run.
type CommandExecutable struct {
	Artifact *CommandExecutableArtifact
	Module   *CommandExecutableModule
	Path     string // meaningful iff both above are nil
}

// Mount describes one filesystem mount made visible inside the sandbox.
type Mount struct {
	Source   string
	Target   string
	Readonly bool
}

// Command is the immutable unit of cacheable work (spec §3): two commands
// with identical canonical bytes have identical IDs and deduplicate.
type Command struct {
	Host       string
	Executable CommandExecutable
	Args       []Value
	Env        map[string]Value
	Mounts     []Mount
	Cwd        string // "" if unset
	Stdin      id.ID  // zero if unset; a Blob to feed as standard input
	User       string // "" if unset
	Checksum   *checksum.Value
}

func (c *Command) Kind() id.Kind { return id.KindCommand }

func (c *Command) Encode() []byte {
	e := wire.NewEncoder()
	e.StructHeader(9)

	e.String(c.Host)

	switch {
	case c.Executable.Artifact != nil:
		e.StructHeader(2)
		e.Uvarint(execVariantArtifact)
		e.StructHeader(2)
		encodeID(e, c.Executable.Artifact.Artifact)
		if c.Executable.Artifact.Subpath == "" {
			e.OptionNone()
		} else {
			e.OptionSome()
			e.String(c.Executable.Artifact.Subpath)
		}
	case c.Executable.Module != nil:
		e.StructHeader(2)
		e.Uvarint(execVariantModule)
		e.StructHeader(2)
		e.String(c.Executable.Module.Kind)
		e.Bytes(encodeReferent(c.Executable.Module.Referent))
	default:
		e.StructHeader(2)
		e.Uvarint(execVariantPath)
		e.String(c.Executable.Path)
	}

	e.ArrayHeader(len(c.Args))
	for _, a := range c.Args {
		encodeValue(e, a)
	}

	envNames := make([]string, 0, len(c.Env))
	for k := range c.Env {
		envNames = append(envNames, k)
	}
	sort.Strings(envNames)
	envEntries := make(map[string][]byte, len(envNames))
	for _, k := range envNames {
		ve := wire.NewEncoder()
		encodeValue(ve, c.Env[k])
		envEntries[k] = ve.Bytes()
	}
	e.StringKeyedMap(envEntries)

	e.ArrayHeader(len(c.Mounts))
	for _, m := range c.Mounts {
		e.StructHeader(3)
		e.String(m.Source)
		e.String(m.Target)
		e.Bool(m.Readonly)
	}

	if c.Cwd == "" {
		e.OptionNone()
	} else {
		e.OptionSome()
		e.String(c.Cwd)
	}

	if c.Stdin.IsZero() {
		e.OptionNone()
	} else {
		e.OptionSome()
		encodeID(e, c.Stdin)
	}

	if c.User == "" {
		e.OptionNone()
	} else {
		e.OptionSome()
		e.String(c.User)
	}

	if c.Checksum == nil {
		e.OptionNone()
	} else {
		e.OptionSome()
		e.String(c.Checksum.String())
	}

	return e.Bytes()
}

func (c *Command) ID() id.ID { return id.NewContent(id.KindCommand, c.Encode()) }

func (c *Command) ChildEdges() []id.ID {
	var edges []id.ID
	switch {
	case c.Executable.Artifact != nil:
		edges = append(edges, c.Executable.Artifact.Artifact)
	case c.Executable.Module != nil:
		edges = append(edges, c.Executable.Module.Referent.Item)
	}
	for _, a := range c.Args {
		valueChildEdges(a, &edges)
	}
	for _, v := range c.Env {
		valueChildEdges(v, &edges)
	}
	if !c.Stdin.IsZero() {
		edges = append(edges, c.Stdin)
	}
	return dedupeSorted(edges)
}

// DecodeCommand reconstructs a Command from its canonical encoding.
func DecodeCommand(b []byte) (*Command, error) {
	d := wire.NewDecoder(b)
	if n, err := d.StructHeader(); err != nil || n != 9 {
		return nil, fmt.Errorf("object: decode command: bad struct header")
	}
	c := &Command{}
	var err error
	c.Host, err = d.String()
	if err != nil {
		return nil, fmt.Errorf("object: decode command host: %w", err)
	}

	if n, err := d.StructHeader(); err != nil || n != 2 {
		return nil, fmt.Errorf("object: decode command executable: bad struct header")
	}
	variant, err := d.Uvarint()
	if err != nil {
		return nil, fmt.Errorf("object: decode command executable variant: %w", err)
	}
	switch variant {
	case execVariantArtifact:
		if n, err := d.StructHeader(); err != nil || n != 2 {
			return nil, fmt.Errorf("object: decode command executable artifact: bad struct header")
		}
		artifact, err := decodeID(d)
		if err != nil {
			return nil, err
		}
		hasSubpath, err := d.Option()
		if err != nil {
			return nil, err
		}
		var subpath string
		if hasSubpath {
			subpath, err = d.String()
			if err != nil {
				return nil, err
			}
		}
		c.Executable.Artifact = &CommandExecutableArtifact{Artifact: artifact, Subpath: subpath}
	case execVariantModule:
		if n, err := d.StructHeader(); err != nil || n != 2 {
			return nil, fmt.Errorf("object: decode command executable module: bad struct header")
		}
		kind, err := d.String()
		if err != nil {
			return nil, err
		}
		refBytes, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		ref, err := decodeReferent(refBytes)
		if err != nil {
			return nil, err
		}
		c.Executable.Module = &CommandExecutableModule{Kind: kind, Referent: ref}
	case execVariantPath:
		c.Executable.Path, err = d.String()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("object: decode command executable: unknown variant %d", variant)
	}

	argCount, err := d.ArrayHeader()
	if err != nil {
		return nil, err
	}
	c.Args = make([]Value, 0, argCount)
	for i := 0; i < argCount; i++ {
		v, err := decodeValue(d)
		if err != nil {
			return nil, fmt.Errorf("object: decode command arg %d: %w", i, err)
		}
		c.Args = append(c.Args, v)
	}

	envCount, err := d.MapHeader()
	if err != nil {
		return nil, err
	}
	c.Env = make(map[string]Value, envCount)
	for i := 0; i < envCount; i++ {
		name, err := d.String()
		if err != nil {
			return nil, err
		}
		raw, err := d.RawEntry()
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(wire.NewDecoder(raw))
		if err != nil {
			return nil, fmt.Errorf("object: decode command env %q: %w", name, err)
		}
		c.Env[name] = v
	}

	mountCount, err := d.ArrayHeader()
	if err != nil {
		return nil, err
	}
	c.Mounts = make([]Mount, 0, mountCount)
	for i := 0; i < mountCount; i++ {
		if n, err := d.StructHeader(); err != nil || n != 3 {
			return nil, fmt.Errorf("object: decode command mount %d: bad struct header", i)
		}
		src, err := d.String()
		if err != nil {
			return nil, err
		}
		tgt, err := d.String()
		if err != nil {
			return nil, err
		}
		ro, err := d.Bool()
		if err != nil {
			return nil, err
		}
		c.Mounts = append(c.Mounts, Mount{Source: src, Target: tgt, Readonly: ro})
	}

	hasCwd, err := d.Option()
	if err != nil {
		return nil, err
	}
	if hasCwd {
		c.Cwd, err = d.String()
		if err != nil {
			return nil, err
		}
	}

	hasStdin, err := d.Option()
	if err != nil {
		return nil, err
	}
	if hasStdin {
		c.Stdin, err = decodeID(d)
		if err != nil {
			return nil, err
		}
	}

	hasUser, err := d.Option()
	if err != nil {
		return nil, err
	}
	if hasUser {
		c.User, err = d.String()
		if err != nil {
			return nil, err
		}
	}

	hasChecksum, err := d.Option()
	if err != nil {
		return nil, err
	}
	if hasChecksum {
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		v, err := checksum.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("object: decode command checksum: %w", err)
		}
		c.Checksum = &v
	}

	return c, nil
}
