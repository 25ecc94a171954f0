package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Version is the frame format version written by this package
	Version uint8 = 1
	// HeaderSize is version(1) + kind(1) + length(4)
	HeaderSize = 6
	// MaxFrameSize bounds a single payload
	MaxFrameSize = 16 << 20
)

var (
	// ErrUnknownKind is returned for a kind byte outside the known variants
	ErrUnknownKind = errors.New("wire: unknown message kind")
	// ErrUnsupportedVersion is returned when a frame carries a different version
	ErrUnsupportedVersion = errors.New("wire: unsupported frame version")
	// ErrFrameTooLarge is returned when a payload exceeds MaxFrameSize
	ErrFrameTooLarge = errors.New("wire: frame too large")
	// ErrMalformed is returned when a payload does not match its kind's layout
	ErrMalformed = errors.New("wire: malformed payload")
	// ErrMixedPayload is returned when a message populates another kind's fields
	ErrMixedPayload = errors.New("wire: payload fields do not match kind")
)

// Marshal encodes m into a single self-contained frame
func Marshal(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	payload := encodePayload(m)
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, HeaderSize, HeaderSize+len(payload))
	frame[0] = Version
	frame[1] = byte(m.Kind)
	binary.BigEndian.PutUint32(frame[2:], uint32(len(payload)))
	return append(frame, payload...), nil
}

// WriteMessage encodes m and writes the whole frame to w
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func encodePayload(m Message) []byte {
	switch m.Kind {
	case KindJoinRequest:
		return []byte(m.Username)
	case KindJoinResponse:
		if m.Approved {
			return []byte{1}
		}
		return []byte{0}
	case KindSubmitRecord:
		return append([]byte(nil), m.Record...)
	case KindUpdateSnapshot:
		size := 8
		for _, r := range m.Records {
			size += 4 + len(r)
		}
		for _, r := range m.Rankings {
			size += 4 + len(r)
		}
		buf := make([]byte, 0, size)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Records)))
		for _, r := range m.Records {
			buf = appendChunk(buf, r)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Rankings)))
		for _, r := range m.Rankings {
			buf = appendChunk(buf, r)
		}
		return buf
	}
	return nil
}

func appendChunk(buf, chunk []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(chunk)))
	return append(buf, chunk...)
}

// Decoder reads frames from a stream
type Decoder struct {
	r      *bufio.Reader
	header [HeaderSize]byte
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next frame. It returns io.EOF only when the stream ends
// cleanly on a frame boundary.
func (d *Decoder) Decode() (Message, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		return Message{}, err
	}

	if d.header[0] != Version {
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, d.header[0])
	}
	kind := Kind(d.header[1])
	if !kind.Valid() {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, d.header[1])
	}
	length := binary.BigEndian.Uint32(d.header[2:])
	if length > MaxFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}
	return decodePayload(kind, payload)
}

func decodePayload(kind Kind, payload []byte) (Message, error) {
	switch kind {
	case KindJoinRequest:
		return NewJoinRequest(string(payload)), nil
	case KindJoinResponse:
		if len(payload) != 1 {
			return Message{}, fmt.Errorf("%w: join response of %d bytes", ErrMalformed, len(payload))
		}
		return NewJoinResponse(payload[0] != 0), nil
	case KindSubmitRecord:
		return NewSubmitRecord(Record(payload)), nil
	}

	// KindUpdateSnapshot
	p := payloadReader{buf: payload}
	records, err := readChunks(&p, func(b []byte) Record { return Record(b) })
	if err != nil {
		return Message{}, err
	}
	rankings, err := readChunks(&p, func(b []byte) RankingRow { return RankingRow(b) })
	if err != nil {
		return Message{}, err
	}
	if len(p.buf) != 0 {
		return Message{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(p.buf))
	}
	return NewUpdateSnapshot(records, rankings), nil
}

type payloadReader struct {
	buf []byte
}

func (p *payloadReader) uint32() (uint32, bool) {
	if len(p.buf) < 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(p.buf)
	p.buf = p.buf[4:]
	return v, true
}

func (p *payloadReader) bytes(n uint32) ([]byte, bool) {
	if uint64(len(p.buf)) < uint64(n) {
		return nil, false
	}
	b := p.buf[:n:n]
	p.buf = p.buf[n:]
	return b, true
}

func readChunks[T ~[]byte](p *payloadReader, conv func([]byte) T) ([]T, error) {
	count, ok := p.uint32()
	if !ok {
		return nil, fmt.Errorf("%w: missing count", ErrMalformed)
	}
	// every chunk needs at least its 4-byte length
	if uint64(count)*4 > uint64(len(p.buf)) {
		return nil, fmt.Errorf("%w: count %d exceeds payload", ErrMalformed, count)
	}

	out := make([]T, 0, count)
	for i := uint32(0); i < count; i++ {
		n, ok := p.uint32()
		if !ok {
			return nil, fmt.Errorf("%w: truncated chunk header", ErrMalformed)
		}
		b, ok := p.bytes(n)
		if !ok {
			return nil, fmt.Errorf("%w: truncated chunk", ErrMalformed)
		}
		out = append(out, conv(b))
	}
	return out, nil
}
