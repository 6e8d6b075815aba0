package zipcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sunr3d/zipstream/internal/interfaces/infra"
)

const stderrTail = 4 * 1024

var _ infra.Archiver = (*zipArchiver)(nil)

type Options struct {
	// Program is the tool and its leading arguments. The target directory is
	// the working directory of the process; Args are appended after Program.
	Program []string
	Args    []string
}

// ZipOptions invokes zip recursively with the archive written to stdout.
// With flat set entries carry only their file names.
func ZipOptions(bin string, flat bool) Options {
	return Options{
		Program: []string{bin},
		Args:    lo.Ternary(flat, []string{"-r", "-q", "-j", "-", "."}, []string{"-r", "-q", "-", "."}),
	}
}

type zipArchiver struct {
	logger *zap.Logger
	opts   Options
}

func New(log *zap.Logger, opts Options) infra.Archiver {
	return &zipArchiver{
		logger: log,
		opts:   opts,
	}
}

// Start does not bind the process to ctx: killing it is the caller's
// decision so that a cancelled read is never mistaken for a clean EOF.
func (a *zipArchiver) Start(ctx context.Context, dir string) (infra.ArchiveProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStart, err)
	}
	if len(a.opts.Program) == 0 {
		return nil, fmt.Errorf("%w: программа не задана", ErrStart)
	}

	args := append(append([]string{}, a.opts.Program[1:]...), a.opts.Args...)
	cmd := exec.Command(a.opts.Program[0], args...)
	cmd.Dir = dir

	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPipe, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStart, err)
	}

	a.logger.Debug("архиватор запущен",
		zap.Strings("program", a.opts.Program),
		zap.Strings("args", a.opts.Args),
		zap.String("dir", dir),
		zap.Int("pid", cmd.Process.Pid),
	)

	return &process{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
	}, nil
}

type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	mu         sync.Mutex
	terminated bool

	waitOnce sync.Once
	exited   chan struct{}
	residual []byte
	waitErr  error
}

func (p *process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *process) ReadChunk(buf []byte) (int, error) {
	n, err := p.stdout.Read(buf)
	if n > 0 && errors.Is(err, io.EOF) {
		// The chunk is delivered now and EOF on the next call.
		return n, nil
	}
	return n, err
}

func (p *process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.terminated
}

func (p *process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated {
		return nil
	}
	select {
	case <-p.exited:
		return nil
	default:
	}

	p.terminated = true
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("%w: %v", ErrTerminate, err)
	}
	return nil
}

func (p *process) Wait() ([]byte, error) {
	p.waitOnce.Do(func() {
		// All reads from the pipe must finish before cmd.Wait closes it.
		residual, readErr := io.ReadAll(p.stdout)
		err := p.cmd.Wait()
		close(p.exited)

		p.residual = residual
		switch {
		case err != nil && p.wasTerminated():
			p.waitErr = nil
		case err != nil:
			p.waitErr = fmt.Errorf("%w: %v: %s", ErrExit, err, p.stderr.String())
		case readErr != nil:
			p.waitErr = fmt.Errorf("%w: %v", ErrExit, readErr)
		}
	})
	return p.residual, p.waitErr
}

func (p *process) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if len(p) > b.limit {
		p = p[len(p)-b.limit:]
	}
	if over := b.buf.Len() + len(p) - b.limit; over > 0 {
		b.buf.Next(over)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
