package infra

import "context"

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=Archiver --output=../../../mocks
type Archiver interface {
	// Start spawns the archiving tool against dir with its output on a pipe.
	Start(ctx context.Context, dir string) (ArchiveProcess, error)
}

// ArchiveProcess is a running archiving tool owned by a single request.
//
// ReadChunk returns io.EOF once the tool has closed its output. Terminate is
// a no-op for a process that already exited. Wait reaps the process: it
// collects whatever is still buffered on stdout and the exit status. The
// process is reaped only once; repeated calls return the first result.
//
//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=ArchiveProcess --output=../../../mocks
type ArchiveProcess interface {
	Pid() int
	ReadChunk(buf []byte) (int, error)
	Terminate() error
	Wait() ([]byte, error)
	Alive() bool
}
