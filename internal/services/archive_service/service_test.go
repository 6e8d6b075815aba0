package archive_service

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/zipstream/internal/config"
	"github.com/sunr3d/zipstream/internal/infra/inmem"
	"github.com/sunr3d/zipstream/internal/interfaces/infra"
	"github.com/sunr3d/zipstream/internal/metrics"
	"github.com/sunr3d/zipstream/internal/testutils"
	"github.com/sunr3d/zipstream/models"
)

const testRoot = "/srv/archives"

func setupTestService(t *testing.T, mutate func(*config.Config)) (*archiveService, *testutils.MockArchiver) {
	logger := zaptest.NewLogger(t)

	cfg := &config.Config{
		PathToFiles:   testRoot,
		ChunkSize:     4,
		ThrottleDelay: time.Second,
		ArchiverBin:   "zip",
	}
	if mutate != nil {
		mutate(cfg)
	}

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(filepath.Join(testRoot, "photos42"), 0755))

	archiver := &testutils.MockArchiver{}
	svc := New(logger, cfg, fs, inmem.New(logger), archiver, metrics.New()).(*archiveService)

	return svc, archiver
}

func newSession(svc *archiveService) *models.StreamSession {
	s := &models.StreamSession{ID: "test-session", Token: "photos42", State: models.SessionStateStreaming, StartedAt: time.Now()}
	svc.track(context.Background(), s)
	return s
}

// recordingSink remembers every write and when it happened.
type recordingSink struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	writes  []time.Time
	failAt  int
	onWrite func(n int)
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.writes = append(s.writes, time.Now())
	n := len(s.writes)
	onWrite := s.onWrite
	if s.failAt > 0 && n >= s.failAt {
		s.mu.Unlock()
		return 0, errors.New("broken pipe")
	}
	s.buf.Write(p)
	s.mu.Unlock()

	if onWrite != nil {
		onWrite(n)
	}
	return len(p), nil
}

func (s *recordingSink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func TestArchiveService_Resolve(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	req, err := svc.Resolve(context.Background(), "photos42")
	require.NoError(t, err)
	assert.Equal(t, "photos42", req.Token)
	assert.Equal(t, filepath.Join(testRoot, "photos42"), req.Dir)

	_, err = svc.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestArchiveService_Resolve_ContextCanceled(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Resolve(ctx, "photos42")
	assert.ErrorIs(t, err, ErrContextDone)
}

func TestArchiveService_Open_Success(t *testing.T) {
	svc, archiver := setupTestService(t, nil)
	proc := &testutils.FakeProcess{}
	archiver.On("Start", mock.Anything, filepath.Join(testRoot, "photos42")).Return(proc, nil).Once()

	req, err := svc.Resolve(context.Background(), "photos42")
	require.NoError(t, err)

	session, got, err := svc.Open(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, proc, got)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.SessionStateStreaming, session.State)

	sessions, err := svc.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.ID, sessions[0].ID)

	archiver.AssertExpectations(t)
}

func TestArchiveService_Open_SpawnFailure(t *testing.T) {
	svc, archiver := setupTestService(t, nil)
	archiver.On("Start", mock.Anything, mock.Anything).Return(nil, errors.New("exec: \"zip\": executable file not found")).Once()

	_, _, err := svc.Open(context.Background(), &models.ArchiveRequest{Token: "photos42", Dir: "/x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessSpawn)

	sessions, err := svc.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestArchiveService_Open_ServerBusy(t *testing.T) {
	svc, archiver := setupTestService(t, func(c *config.Config) { c.MaxActiveStreams = 1 })
	archiver.On("Start", mock.Anything, mock.Anything).Return(&testutils.FakeProcess{}, nil).Once()

	req := &models.ArchiveRequest{Token: "photos42", Dir: "/x"}
	_, _, err := svc.Open(context.Background(), req)
	require.NoError(t, err)

	_, _, err = svc.Open(context.Background(), req)
	assert.ErrorIs(t, err, ErrServerBusy)
	archiver.AssertNumberOfCalls(t, "Start", 1)
}

func TestArchiveService_Open_ConcurrentRequestsRespectLimit(t *testing.T) {
	const limit, requests = 2, 8

	svc, archiver := setupTestService(t, func(c *config.Config) { c.MaxActiveStreams = limit })
	archiver.On("Start", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(50 * time.Millisecond) }).
		Return(func(context.Context, string) infra.ArchiveProcess { return &testutils.FakeProcess{} }, nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		busy     int
	)
	start := make(chan struct{})
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := svc.Open(context.Background(), &models.ArchiveRequest{Token: "photos42", Dir: "/x"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, ErrServerBusy):
				busy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, limit, admitted)
	assert.Equal(t, requests-limit, busy)
	archiver.AssertNumberOfCalls(t, "Start", limit)

	active, err := svc.repo.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, limit, active)
}

func TestArchiveService_Open_SpawnFailureFreesSlot(t *testing.T) {
	svc, archiver := setupTestService(t, func(c *config.Config) { c.MaxActiveStreams = 1 })
	archiver.On("Start", mock.Anything, mock.Anything).Return(nil, errors.New("fork/exec zip: resource temporarily unavailable")).Once()
	archiver.On("Start", mock.Anything, mock.Anything).Return(&testutils.FakeProcess{}, nil).Once()

	req := &models.ArchiveRequest{Token: "photos42", Dir: "/x"}
	_, _, err := svc.Open(context.Background(), req)
	require.ErrorIs(t, err, ErrProcessSpawn)

	_, _, err = svc.Open(context.Background(), req)
	assert.NoError(t, err)
}

func TestArchiveService_Session(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	session := newSession(svc)

	got, err := svc.Session(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Token, got.Token)

	_, err = svc.Session(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestArchiveService_Relay_Completed(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	proc := &testutils.FakeProcess{
		Chunks:   [][]byte{[]byte("PK\x03\x04"), []byte("data"), []byte("more")},
		Residual: []byte("END"),
	}
	session := newSession(svc)
	sink := &recordingSink{}

	res := svc.Relay(context.Background(), proc, sink, session)

	require.NoError(t, res.Err)
	assert.Equal(t, models.RelayCompleted, res.Outcome)
	assert.Equal(t, "PK\x03\x04datamoreEND", sink.buf.String())
	assert.Equal(t, int64(4), res.ChunksSent)
	assert.Equal(t, int64(15), res.BytesSent)
	assert.Equal(t, models.SessionStateDone, session.State)
	assert.True(t, proc.Reaped())
	assert.False(t, proc.Terminated())
}

func TestArchiveService_Relay_ChunkSizeBound(t *testing.T) {
	svc, _ := setupTestService(t, func(c *config.Config) { c.ChunkSize = 3 })
	proc := &testutils.FakeProcess{Chunks: [][]byte{[]byte("abcdefgh")}}
	sink := &recordingSink{}

	res := svc.Relay(context.Background(), proc, sink, newSession(svc))

	require.NoError(t, res.Err)
	assert.Equal(t, "abcdefgh", sink.buf.String())
	assert.Equal(t, 3, sink.Writes())
}

func TestArchiveService_Relay_CancelAfterChunks(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := &testutils.FakeProcess{
		Chunks: testutils.Chunks(bytes.Repeat([]byte("z"), 40), 4),
		Block:  true,
	}
	sink := &recordingSink{onWrite: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	res := svc.Relay(ctx, proc, sink, newSession(svc))

	assert.Equal(t, models.RelayAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrStreamAborted)
	assert.Equal(t, 2, sink.Writes())
	assert.True(t, proc.Terminated())
	assert.Equal(t, 3, proc.Reads())
}

func TestArchiveService_Relay_CancelWhileReadBlocked(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	proc := &testutils.FakeProcess{Chunks: [][]byte{[]byte("one")}, Block: true}
	sink := &recordingSink{}

	done := make(chan models.RelayResult, 1)
	go func() {
		done <- svc.Relay(ctx, proc, sink, newSession(svc))
	}()

	require.Eventually(t, func() bool { return sink.Writes() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, models.RelayAborted, res.Outcome)
		assert.True(t, proc.Terminated())
		assert.Equal(t, 1, sink.Writes())
	case <-time.After(2 * time.Second):
		t.Fatal("relay не заметил отмену во время чтения")
	}
}

func TestArchiveService_Relay_WriteFailure(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	proc := &testutils.FakeProcess{Chunks: testutils.Chunks([]byte("0123456789abcdef"), 4)}
	sink := &recordingSink{failAt: 2}

	res := svc.Relay(context.Background(), proc, sink, newSession(svc))

	assert.Equal(t, models.RelayAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrStreamAborted)
	assert.ErrorContains(t, res.Err, "broken pipe")
	assert.True(t, proc.Terminated())
	assert.Equal(t, 2, proc.Reads())
	assert.Equal(t, "0123", sink.buf.String())
}

func TestArchiveService_Relay_ReadFailure(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	proc := &testutils.FakeProcess{Chunks: [][]byte{[]byte("abc")}, ReadErr: errors.New("read |0: bad file descriptor")}
	sink := &recordingSink{}

	res := svc.Relay(context.Background(), proc, sink, newSession(svc))

	assert.Equal(t, models.RelayFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrStreamRead)
	assert.True(t, proc.Terminated())
	assert.Equal(t, "abc", sink.buf.String())
}

func TestArchiveService_Relay_SubprocessFailure(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	proc := &testutils.FakeProcess{
		Chunks:   [][]byte{[]byte("part")},
		Residual: []byte("ial"),
		WaitErr:  errors.New("exit status 18"),
	}
	sink := &recordingSink{}

	res := svc.Relay(context.Background(), proc, sink, newSession(svc))

	assert.Equal(t, models.RelayFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrSubprocessFailed)
	assert.Equal(t, "partial", sink.buf.String())
}

func TestArchiveService_Relay_ThrottleOncePerChunk(t *testing.T) {
	svc, _ := setupTestService(t, func(c *config.Config) { c.Throttling = true })

	var delays []time.Duration
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	proc := &testutils.FakeProcess{Chunks: testutils.Chunks(bytes.Repeat([]byte("a"), 10), 4)}
	res := svc.Relay(context.Background(), proc, &recordingSink{}, newSession(svc))

	require.NoError(t, res.Err)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, delays)
}

func TestArchiveService_Relay_NoThrottle(t *testing.T) {
	svc, _ := setupTestService(t, nil)

	calls := 0
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		calls++
		return nil
	}

	proc := &testutils.FakeProcess{Chunks: testutils.Chunks(bytes.Repeat([]byte("a"), 10), 4)}
	res := svc.Relay(context.Background(), proc, &recordingSink{}, newSession(svc))

	require.NoError(t, res.Err)
	assert.Zero(t, calls)
}

func TestArchiveService_Relay_ThrottleSpacing(t *testing.T) {
	const delay = 50 * time.Millisecond
	svc, _ := setupTestService(t, func(c *config.Config) {
		c.Throttling = true
		c.ThrottleDelay = delay
	})

	proc := &testutils.FakeProcess{Chunks: testutils.Chunks(bytes.Repeat([]byte("a"), 12), 4)}
	sink := &recordingSink{}
	res := svc.Relay(context.Background(), proc, sink, newSession(svc))

	require.NoError(t, res.Err)
	require.Len(t, sink.writes, 3)
	assert.GreaterOrEqual(t, sink.writes[1].Sub(sink.writes[0]), delay)
	assert.GreaterOrEqual(t, sink.writes[2].Sub(sink.writes[1]), delay)
}

func TestArchiveService_Relay_CancelDuringThrottle(t *testing.T) {
	svc, _ := setupTestService(t, func(c *config.Config) {
		c.Throttling = true
		c.ThrottleDelay = time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())

	proc := &testutils.FakeProcess{Chunks: testutils.Chunks(bytes.Repeat([]byte("a"), 12), 4)}
	sink := &recordingSink{onWrite: func(int) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
	}}

	start := time.Now()
	res := svc.Relay(ctx, proc, sink, newSession(svc))

	assert.Equal(t, models.RelayAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, sink.Writes())
	assert.True(t, proc.Terminated())
}

func TestArchiveService_Close(t *testing.T) {
	tests := []struct {
		name  string
		proc  *testutils.FakeProcess
		state models.SessionState
	}{
		{name: "live process", proc: &testutils.FakeProcess{Block: true}, state: models.SessionStateStreaming},
		{name: "finished process", proc: &testutils.FakeProcess{}, state: models.SessionStateDone},
		{name: "failed process already reported", proc: &testutils.FakeProcess{WaitErr: errors.New("exit status 12")}, state: models.SessionStateAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := setupTestService(t, nil)
			session := newSession(svc)
			session.State = tt.state
			if tt.state != models.SessionStateStreaming {
				tt.proc.Wait()
			}

			err := svc.Close(context.Background(), session, tt.proc)
			require.NoError(t, err)

			assert.False(t, tt.proc.Alive())
			assert.True(t, tt.proc.Reaped())

			sessions, err := svc.Sessions(context.Background())
			require.NoError(t, err)
			assert.Empty(t, sessions)
		})
	}
}

func TestArchiveService_Close_UnreportedExitStatus(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	session := newSession(svc)
	proc := &testutils.FakeProcess{WaitErr: errors.New("exit status 12")}

	// the process exited on its own before the relay ever ran
	_, _ = proc.Wait()

	err := svc.Close(context.Background(), session, proc)
	assert.ErrorIs(t, err, ErrCleanup)
	assert.ErrorContains(t, err, "exit status 12")
	assert.Equal(t, models.SessionStateAborted, session.State)
}

func TestArchiveService_Close_CanceledContext(t *testing.T) {
	svc, _ := setupTestService(t, nil)
	session := newSession(svc)
	proc := &testutils.FakeProcess{Block: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.Close(ctx, session, proc))
	assert.True(t, proc.Terminated())

	count, err := svc.repo.CountActive(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

var _ infra.ArchiveProcess = (*testutils.FakeProcess)(nil)
