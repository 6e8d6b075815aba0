// Package testutils provides stand-ins for the archiving tool.
package testutils

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sunr3d/zipstream/internal/interfaces/infra"
)

// FakeProcess replays Chunks, then reports ReadErr or io.EOF. With Block set
// it hangs after the last chunk until terminated, like a tool still
// compressing a large file.
type FakeProcess struct {
	Chunks   [][]byte
	ReadErr  error
	Residual []byte
	WaitErr  error
	Block    bool

	// OnRead runs before every read with the number of reads so far.
	OnRead func(reads int)

	mu             sync.Mutex
	reads          int
	terminated     bool
	exited         bool
	killed         chan struct{}
	terminateCalls int
	waitCalls      int
}

var _ infra.ArchiveProcess = (*FakeProcess)(nil)

func (p *FakeProcess) init() {
	if p.killed == nil {
		p.killed = make(chan struct{})
	}
}

func (p *FakeProcess) Pid() int {
	return 4242
}

func (p *FakeProcess) ReadChunk(buf []byte) (int, error) {
	p.mu.Lock()
	p.init()
	reads := p.reads
	p.reads++
	onRead := p.OnRead
	p.mu.Unlock()

	if onRead != nil {
		onRead(reads)
	}

	p.mu.Lock()
	if p.terminated || p.exited {
		p.mu.Unlock()
		return 0, io.EOF
	}
	if len(p.Chunks) > 0 {
		n := copy(buf, p.Chunks[0])
		if n == len(p.Chunks[0]) {
			p.Chunks = p.Chunks[1:]
		} else {
			p.Chunks[0] = p.Chunks[0][n:]
		}
		p.mu.Unlock()
		return n, nil
	}
	if p.ReadErr != nil {
		err := p.ReadErr
		p.mu.Unlock()
		return 0, err
	}
	block, killed := p.Block, p.killed
	p.mu.Unlock()

	if block {
		<-killed
	}
	return 0, io.EOF
}

func (p *FakeProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()

	p.terminateCalls++
	if p.terminated || p.exited {
		return nil
	}
	p.terminated = true
	close(p.killed)
	return nil
}

func (p *FakeProcess) Wait() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.waitCalls++
	if p.waitCalls > 1 || p.exited {
		return p.result()
	}
	p.exited = true
	return p.result()
}

func (p *FakeProcess) result() ([]byte, error) {
	if p.terminated {
		return nil, nil
	}
	return p.Residual, p.WaitErr
}

func (p *FakeProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.terminated && !p.exited
}

func (p *FakeProcess) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Reaped reports whether Wait has been called at least once.
func (p *FakeProcess) Reaped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitCalls > 0
}

func (p *FakeProcess) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

// MockArchiver is a spy over Archiver.Start.
type MockArchiver struct {
	mock.Mock
}

var _ infra.Archiver = (*MockArchiver)(nil)

func (m *MockArchiver) Start(ctx context.Context, dir string) (infra.ArchiveProcess, error) {
	args := m.Called(ctx, dir)

	var proc infra.ArchiveProcess
	if rf, ok := args.Get(0).(func(context.Context, string) infra.ArchiveProcess); ok {
		proc = rf(ctx, dir)
	} else if args.Get(0) != nil {
		proc = args.Get(0).(infra.ArchiveProcess)
	}
	return proc, args.Error(1)
}

// Chunks splits data into pieces of size bytes.
func Chunks(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
