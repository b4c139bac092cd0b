package antientropy

import (
	"bufio"
	"io"

	"github.com/pkg/errors"

	"github.com/tcfw/noise/pkg/message"
	"github.com/tcfw/noise/pkg/storage"
)

// ProtocolName is exchanged on connect and must match exactly
const ProtocolName = "Noise0"

type frameType byte

const (
	frameDigest frameType = iota + 1
	frameMessage
	frameEnd
)

func (f frameType) String() string {
	switch f {
	case frameDigest:
		return "DIGEST"
	case frameMessage:
		return "MESSAGE"
	case frameEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrUnexpectedFrame     = errors.New("unexpected frame")
)

// frameRW reads and writes protocol frames. Each direction must only be
// driven by a single goroutine at a time.
type frameRW struct {
	r *bufio.Reader
	w *bufio.Writer
}

func newFrameRW(s io.ReadWriter) *frameRW {
	return &frameRW{
		r: bufio.NewReader(s),
		w: bufio.NewWriter(s),
	}
}

func (c *frameRW) writeHandshake(name string) error {
	if len(name) > 0xff {
		return errors.New("protocol name too long")
	}

	if err := c.w.WriteByte(byte(len(name))); err != nil {
		return errors.Wrap(err, "transmitting protocol name len")
	}

	if _, err := c.w.WriteString(name); err != nil {
		return errors.Wrap(err, "transmitting protocol name")
	}

	return c.w.Flush()
}

func (c *frameRW) readHandshake() (string, error) {
	n, err := c.r.ReadByte()
	if err != nil {
		return "", errors.Wrap(err, "reading protocol name len")
	}

	name := make([]byte, n)
	if _, err := io.ReadFull(c.r, name); err != nil {
		return "", errors.Wrap(err, "reading protocol name")
	}

	return string(name), nil
}

func (c *frameRW) writeDigest(d *storage.Digest) error {
	if err := c.w.WriteByte(byte(frameDigest)); err != nil {
		return errors.Wrap(err, "transmitting frame type")
	}

	if _, err := c.w.Write(d.Marshal()); err != nil {
		return errors.Wrap(err, "transmitting digest")
	}

	return c.w.Flush()
}

func (c *frameRW) writeMessage(r *message.Record) error {
	if err := c.w.WriteByte(byte(frameMessage)); err != nil {
		return errors.Wrap(err, "transmitting frame type")
	}

	if _, err := r.WriteTo(c.w); err != nil {
		return errors.Wrap(err, "transmitting message")
	}

	return c.w.Flush()
}

func (c *frameRW) writeEnd() error {
	if err := c.w.WriteByte(byte(frameEnd)); err != nil {
		return errors.Wrap(err, "transmitting frame type")
	}

	return c.w.Flush()
}

func (c *frameRW) readFrameType() (frameType, error) {
	b, err := c.r.ReadByte()
	if err != nil {
		return 0, errors.Wrap(err, "reading frame type")
	}

	return frameType(b), nil
}

func (c *frameRW) readDigest() (*storage.Digest, error) {
	t, err := c.readFrameType()
	if err != nil {
		return nil, err
	}

	if t != frameDigest {
		return nil, errors.Wrapf(ErrUnexpectedFrame, "expected DIGEST, got %s", t)
	}

	b := make([]byte, storage.DigestSize)
	if _, err := io.ReadFull(c.r, b); err != nil {
		return nil, errors.Wrap(err, "reading digest")
	}

	return storage.UnmarshalDigest(b)
}

func (c *frameRW) readMessage() (*message.Record, error) {
	return message.ReadFrom(c.r)
}
