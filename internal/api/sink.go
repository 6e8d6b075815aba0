package api

import (
	"errors"
	"net/http"
	"time"
)

// responseSink writes archive chunks to the client and flushes each one so
// it leaves as soon as it is produced. With a timeout every chunk gets its
// own write deadline.
type responseSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func newResponseSink(w http.ResponseWriter, timeout time.Duration) *responseSink {
	return &responseSink{
		w:       w,
		rc:      http.NewResponseController(w),
		timeout: timeout,
	}
}

func (s *responseSink) Write(p []byte) (int, error) {
	if s.timeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return 0, err
		}
	}

	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}

	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}

func (s *responseSink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
