package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestSnapshotFrameRoundTrip(t *testing.T) {
	records := []Record{Record(`{"team":"254","score":12}`), Record(`{"team":"1678","score":9}`), Record{}}
	rankings := []RankingRow{RankingRow(`{"team":"254","avg":12}`)}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, NewUpdateSnapshot(records, rankings)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	msg, err := NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Kind != KindUpdateSnapshot {
		t.Fatalf("expected %s, got %s", KindUpdateSnapshot, msg.Kind)
	}
	if len(msg.Records) != 3 || len(msg.Rankings) != 1 {
		t.Fatalf("expected 3 records and 1 ranking, got %d and %d", len(msg.Records), len(msg.Rankings))
	}
	for i := range records {
		if !bytes.Equal(msg.Records[i], records[i]) {
			t.Errorf("record %d: got %q, want %q", i, msg.Records[i], records[i])
		}
	}
	if !bytes.Equal(msg.Rankings[0], rankings[0]) {
		t.Errorf("ranking: got %q, want %q", msg.Rankings[0], rankings[0])
	}
}

func TestIdenticalRecordsAreFramedIndependently(t *testing.T) {
	record := Record(`{"team":"971","score":40}`)

	var buf bytes.Buffer
	for i := 0; i < 2; i++ {
		if err := WriteMessage(&buf, NewSubmitRecord(record)); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for i := 0; i < 2; i++ {
		msg, err := dec.Decode()
		if err != nil {
			t.Fatalf("Decode %d failed: %v", i, err)
		}
		if msg.Kind != KindSubmitRecord || !bytes.Equal(msg.Record, record) {
			t.Fatalf("Decode %d: unexpected message %+v", i, msg)
		}
	}
	if _, err := dec.Decode(); err != io.EOF {
		t.Fatalf("expected io.EOF after two frames, got %v", err)
	}
}

func TestJoinMessagesSurviveFraming(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, NewJoinRequest("alice")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if err := WriteMessage(&buf, NewJoinResponse(true)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	dec := NewDecoder(&buf)
	req, err := dec.Decode()
	if err != nil || req.Username != "alice" {
		t.Fatalf("join request: got %+v, err %v", req, err)
	}
	resp, err := dec.Decode()
	if err != nil || !resp.Approved {
		t.Fatalf("join response: got %+v, err %v", resp, err)
	}
}

func TestMarshalRejectsInvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{
			name: "zero kind",
			msg:  Message{},
			want: ErrUnknownKind,
		},
		{
			name: "kind out of range",
			msg:  Message{Kind: 9},
			want: ErrUnknownKind,
		},
		{
			name: "submit with snapshot fields",
			msg:  Message{Kind: KindSubmitRecord, Record: Record("x"), Records: []Record{Record("y")}},
			want: ErrMixedPayload,
		},
		{
			name: "snapshot with username",
			msg:  Message{Kind: KindUpdateSnapshot, Username: "bob"},
			want: ErrMixedPayload,
		},
		{
			name: "join request with approval",
			msg:  Message{Kind: KindJoinRequest, Username: "bob", Approved: true},
			want: ErrMixedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Marshal(tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("Marshal() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	header := func(version, kind byte, length uint32) []byte {
		h := []byte{version, kind, 0, 0, 0, 0}
		binary.BigEndian.PutUint32(h[2:], length)
		return h
	}

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{
			name:  "wrong version",
			frame: header(2, byte(KindSubmitRecord), 0),
			want:  ErrUnsupportedVersion,
		},
		{
			name:  "unknown kind",
			frame: header(Version, 0x7f, 0),
			want:  ErrUnknownKind,
		},
		{
			name:  "oversized length",
			frame: header(Version, byte(KindSubmitRecord), MaxFrameSize+1),
			want:  ErrFrameTooLarge,
		},
		{
			name:  "truncated payload",
			frame: append(header(Version, byte(KindSubmitRecord), 10), 'a', 'b'),
			want:  io.ErrUnexpectedEOF,
		},
		{
			name:  "truncated header",
			frame: []byte{Version, byte(KindSubmitRecord)},
			want:  io.ErrUnexpectedEOF,
		},
		{
			name:  "snapshot count larger than payload",
			frame: append(header(Version, byte(KindUpdateSnapshot), 4), 0, 0, 0, 50),
			want:  ErrMalformed,
		},
		{
			name:  "join response with two bytes",
			frame: append(header(Version, byte(KindJoinResponse), 2), 1, 1),
			want:  ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(bytes.NewReader(tt.frame)).Decode()
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSnapshotTrailingBytesRejected(t *testing.T) {
	frame, err := Marshal(NewUpdateSnapshot(nil, nil))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	frame = append(frame, 0xff)
	binary.BigEndian.PutUint32(frame[2:], uint32(len(frame)-HeaderSize))

	if _, err := NewDecoder(bytes.NewReader(frame)).Decode(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
