package process

import (
	"io"
	"os"
	"sync"

	"github.com/creack/pty"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// Pipe is the transient, server-lifetime byte stream (spec §3) used for a
// process's dumb stdio slots: created on demand for a process's stdio and
// torn down once both ends close.
type Pipe struct {
	ID id.ID
	r  *io.PipeReader
	w  *io.PipeWriter
}

// Reader returns the read end.
func (p *Pipe) Reader() io.ReadCloser { return p.r }

// Writer returns the write end.
func (p *Pipe) Writer() io.WriteCloser { return p.w }

// PipeStore creates and tracks Pipes for the server's lifetime.
type PipeStore struct {
	mu    sync.Mutex
	pipes map[id.ID]*Pipe
}

// NewPipeStore returns an empty PipeStore.
func NewPipeStore() *PipeStore { return &PipeStore{pipes: map[id.ID]*Pipe{}} }

// Create allocates a new Pipe and registers it.
func (s *PipeStore) Create() *Pipe {
	r, w := io.Pipe()
	p := &Pipe{ID: id.NewTemporal(id.KindPipe), r: r, w: w}
	s.mu.Lock()
	s.pipes[p.ID] = p
	s.mu.Unlock()
	return p
}

// Get returns a previously created Pipe by ID.
func (s *PipeStore) Get(pipeID id.ID) (*Pipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipes[pipeID]
	if !ok {
		return nil, tgerr.New(tgerr.NotFound, "process: pipe %s not found", pipeID)
	}
	return p, nil
}

// Close closes and forgets pipeID. Idempotent.
func (s *PipeStore) Close(pipeID id.ID) {
	s.mu.Lock()
	p, ok := s.pipes[pipeID]
	delete(s.pipes, pipeID)
	s.mu.Unlock()
	if !ok {
		return
	}
	p.r.Close()
	p.w.Close()
}

// Pty is a transient, server-lifetime terminal-aware stdio slot (spec §3):
// the master side of a pseudo-terminal pair, with window-size events
// applied through Resize.
type Pty struct {
	ID     id.ID
	Master *os.File
}

// Resize applies a new terminal window size.
func (p *Pty) Resize(rows, cols uint16) error {
	return pty.Setsize(p.Master, &pty.Winsize{Rows: rows, Cols: cols})
}

// Close releases the pseudo-terminal's master side.
func (p *Pty) Close() error { return p.Master.Close() }

// PtyStore creates and tracks Ptys for the server's lifetime.
type PtyStore struct {
	mu   sync.Mutex
	ptys map[id.ID]*Pty
}

// NewPtyStore returns an empty PtyStore.
func NewPtyStore() *PtyStore { return &PtyStore{ptys: map[id.ID]*Pty{}} }

// Open allocates a new pseudo-terminal pair, returning the master side
// wrapped as a Pty and the slave side for the caller to hand to the
// command about to run (e.g. as its stdin/stdout/stderr).
func (s *PtyStore) Open() (*Pty, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, tgerr.Wrap(tgerr.Internal, err, "process: open pty")
	}
	p := &Pty{ID: id.NewTemporal(id.KindPty), Master: master}
	s.mu.Lock()
	s.ptys[p.ID] = p
	s.mu.Unlock()
	return p, slave, nil
}

// Get returns a previously opened Pty by ID.
func (s *PtyStore) Get(ptyID id.ID) (*Pty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ptys[ptyID]
	if !ok {
		return nil, tgerr.New(tgerr.NotFound, "process: pty %s not found", ptyID)
	}
	return p, nil
}

// Close closes and forgets ptyID. Idempotent.
func (s *PtyStore) Close(ptyID id.ID) {
	s.mu.Lock()
	p, ok := s.ptys[ptyID]
	delete(s.ptys, ptyID)
	s.mu.Unlock()
	if ok {
		p.Close()
	}
}
