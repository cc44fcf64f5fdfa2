package audit

import (
	"context"
	"io"
	"sync"

	"github.com/goccy/go-json"
)

type jsonlSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONL returns a sink that appends each record as one JSON line to w.
// Writes are serialized, so records never interleave.
func NewJSONL(w io.Writer) Sink {
	return &jsonlSink{w: w}
}

func (s *jsonlSink) Record(_ context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(b)
	return err
}
