package audit

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject NATS sinks publish to when none is given.
const DefaultSubject = "parley.audit"

type natsSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATS returns a sink publishing each record as JSON to the given
// subject. An empty subject uses DefaultSubject. External collectors
// subscribe to build the durable compliance trail; the broker itself keeps
// nothing.
func NewNATS(conn *nats.Conn, subject string) Sink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &natsSink{conn: conn, subject: subject}
}

func (s *natsSink) Record(_ context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject, b)
}
