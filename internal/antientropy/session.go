package antientropy

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tcfw/noise/internal/metrics"
	"github.com/tcfw/noise/internal/utils/logging"
	"github.com/tcfw/noise/pkg/message"
	"github.com/tcfw/noise/pkg/storage"
)

const DefaultQueueSize = 64

type State uint8

const (
	Idle State = iota
	Handshaking
	ExchangingDigests
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Handshaking:
		return "handshaking"
	case ExchangingDigests:
		return "exchanging-digests"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats summarises one session
type Stats struct {
	Sent       int
	Received   int
	Stored     int
	Duplicates int
	Rejected   int
	Failed     int
}

// Session reconciles the local store with one peer over a duplex stream.
// A session runs once; a new connection needs a new session.
type Session struct {
	store  storage.Store
	stream io.ReadWriteCloser
	rw     *frameRW

	name      string
	queueSize int
	logger    *logrus.Entry

	mu    sync.Mutex
	state State

	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	stats Stats
}

type Option func(*Session)

func WithLogger(l *logrus.Entry) Option {
	return func(s *Session) {
		s.logger = l
	}
}

func WithQueueSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

func WithPeer(p string) Option {
	return func(s *Session) {
		s.logger = s.logger.WithField("peer", p)
	}
}

func NewSession(store storage.Store, stream io.ReadWriteCloser, opts ...Option) *Session {
	s := &Session{
		store:     store,
		stream:    stream,
		rw:        newFrameRW(stream),
		name:      ProtocolName,
		queueSize: DefaultQueueSize,
		logger:    logging.Component("sync"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return
	}
	s.state = st
	s.logger.WithField("state", st).Debug("sync state")
}

// Run drives the session to completion and closes the stream. Cancelling
// ctx closes the stream, unblocking any pending I/O.
func (s *Session) Run(ctx context.Context) (Stats, error) {
	if s.State() != Idle {
		return Stats{}, errors.New("session already used")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.fail(ctx.Err())
		case <-stop:
		}
	}()

	err := s.run(ctx)

	s.close()
	s.setState(Closed)

	if err != nil {
		metrics.SyncSessions.WithLabelValues("aborted").Inc()
		s.logger.WithError(err).Info("sync aborted")
		return s.stats, err
	}

	metrics.SyncSessions.WithLabelValues("ok").Inc()
	s.logger.WithFields(logging.Fields{
		"sent":       s.stats.Sent,
		"received":   s.stats.Received,
		"stored":     s.stats.Stored,
		"duplicates": s.stats.Duplicates,
		"rejected":   s.stats.Rejected,
	}).Info("sync complete")

	return s.stats, nil
}

func (s *Session) run(ctx context.Context) error {
	s.setState(Handshaking)
	if err := s.handshake(); err != nil {
		return err
	}

	s.setState(ExchangingDigests)
	remote, err := s.exchangeDigests(ctx)
	if err != nil {
		return err
	}

	s.setState(Streaming)
	return s.streamMessages(ctx, remote)
}

// fail records the error that aborts the session and closes the stream
func (s *Session) fail(err error) {
	s.record(err)
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		if err := s.stream.Close(); err != nil {
			s.logger.WithError(err).Debug("closing stream")
		}
	})
}

// record keeps the first error, unless a protocol violation shows up
// after an I/O error. The violation is what closed the stream, the I/O
// errors are its fallout.
func (s *Session) record(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	if s.err == nil || (isProtocolError(err) && !isProtocolError(s.err)) {
		s.err = err
	}
}

// cause returns the recorded error once every task of a phase has ended
func (s *Session) cause(err error) error {
	s.record(err)

	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}

func isProtocolError(err error) bool {
	return errors.Is(err, ErrUnsupportedProtocol) || errors.Is(err, ErrUnexpectedFrame)
}

// pair runs a send and receive task concurrently. Either failing closes
// the stream so its sibling cannot block forever.
func (s *Session) pair(g *errgroup.Group, fns ...func() error) {
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			if err := fn(); err != nil {
				s.fail(err)
				return err
			}
			return nil
		})
	}
}

func (s *Session) handshake() error {
	var (
		g    errgroup.Group
		name string
	)

	// the name is checked once both sides have sent theirs, so a mismatch
	// never cuts off the peer's read of our name
	s.pair(&g,
		func() error {
			return s.rw.writeHandshake(s.name)
		},
		func() error {
			n, err := s.rw.readHandshake()
			if err != nil {
				return err
			}
			name = n
			return nil
		},
	)

	if err := g.Wait(); err != nil {
		return s.cause(err)
	}

	if name != s.name {
		err := errors.Wrapf(ErrUnsupportedProtocol, "peer speaks %q", name)
		s.fail(err)
		return s.cause(err)
	}

	return nil
}

func (s *Session) exchangeDigests(ctx context.Context) (*storage.Digest, error) {
	local, err := s.store.Digest(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "exporting digest")
	}

	var (
		g      errgroup.Group
		remote *storage.Digest
	)

	s.pair(&g,
		func() error {
			return s.rw.writeDigest(local)
		},
		func() error {
			d, err := s.rw.readDigest()
			if err != nil {
				return err
			}
			remote = d
			return nil
		},
	)

	if err := g.Wait(); err != nil {
		return nil, s.cause(err)
	}

	return remote, nil
}

func (s *Session) streamMessages(ctx context.Context, remote *storage.Digest) error {
	g, gctx := errgroup.WithContext(ctx)

	out := make(chan *message.Record, s.queueSize)
	in := make(chan *message.Record, s.queueSize)

	s.pair(g,
		func() error {
			return s.produce(gctx, remote, out)
		},
		func() error {
			return s.send(out)
		},
		func() error {
			return s.receive(gctx, in)
		},
		func() error {
			s.persist(gctx, in)
			return nil
		},
	)

	if err := g.Wait(); err != nil {
		return s.cause(err)
	}

	return nil
}

// produce feeds the records the peer may be missing into out, one at a time
func (s *Session) produce(ctx context.Context, remote *storage.Digest, out chan<- *message.Record) error {
	defer close(out)

	err := s.store.Missing(ctx, remote, func(r *message.Record) error {
		select {
		case out <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return errors.Wrap(err, "reading local candidates")
	}

	return nil
}

func (s *Session) send(out <-chan *message.Record) error {
	for r := range out {
		if err := s.rw.writeMessage(r); err != nil {
			return err
		}
		s.stats.Sent++
		metrics.SyncSent.Inc()
	}

	return s.rw.writeEnd()
}

func (s *Session) receive(ctx context.Context, in chan<- *message.Record) error {
	defer close(in)

	for {
		t, err := s.rw.readFrameType()
		if err != nil {
			return err
		}

		switch t {
		case frameEnd:
			return nil
		case frameMessage:
		default:
			return errors.Wrapf(ErrUnexpectedFrame, "got %s while streaming", t)
		}

		r, err := s.rw.readMessage()
		if err != nil {
			return errors.Wrap(err, "reading message")
		}
		s.stats.Received++
		metrics.SyncReceived.Inc()

		select {
		case in <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// persist saves received records. A record that fails to save is logged
// and skipped.
func (s *Session) persist(ctx context.Context, in <-chan *message.Record) {
	for r := range in {
		_, res, err := s.store.SaveStatus(ctx, r)
		if err != nil {
			logger := s.logger.WithError(err).WithField("id", r.ID())
			if errors.Is(err, message.ErrInvalidMessage) {
				s.stats.Rejected++
				logger.Info("dropped invalid message")
			} else {
				s.stats.Failed++
				logger.Warn("could not save received message")
			}
			continue
		}

		switch res {
		case storage.Stored:
			s.stats.Stored++
		case storage.Duplicate:
			s.stats.Duplicates++
		}
	}
}
