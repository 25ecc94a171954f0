// Package wire defines the session stream message model and its framing.
package wire

import "fmt"

// Kind identifies which variant a Message carries
type Kind uint8

const (
	// KindJoinRequest asks the host to admit a user. Not sent by any component yet.
	KindJoinRequest Kind = iota + 1
	// KindJoinResponse answers a join request. Not sent by any component yet.
	KindJoinResponse
	// KindSubmitRecord carries one record from a client to the host
	KindSubmitRecord
	// KindUpdateSnapshot carries the full aggregate state from the host to every client
	KindUpdateSnapshot
)

// String returns the kind name used in logs
func (k Kind) String() string {
	switch k {
	case KindJoinRequest:
		return "JOIN_REQUEST"
	case KindJoinResponse:
		return "JOIN_RESPONSE"
	case KindSubmitRecord:
		return "SUBMIT_RECORD"
	case KindUpdateSnapshot:
		return "UPDATE_SNAPSHOT"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k >= KindJoinRequest && k <= KindUpdateSnapshot
}

// Record is an opaque host-defined entry. The session layer only transports it.
type Record []byte

// RankingRow is an opaque host-computed aggregate row
type RankingRow []byte

// Message is the tagged variant exchanged on the session stream.
// Only the fields belonging to Kind are meaningful.
type Message struct {
	Kind Kind

	Username string // KindJoinRequest
	Approved bool   // KindJoinResponse

	Record Record // KindSubmitRecord

	Records  []Record     // KindUpdateSnapshot
	Rankings []RankingRow // KindUpdateSnapshot
}

// NewJoinRequest builds a join request message
func NewJoinRequest(username string) Message {
	return Message{Kind: KindJoinRequest, Username: username}
}

// NewJoinResponse builds a join response message
func NewJoinResponse(approved bool) Message {
	return Message{Kind: KindJoinResponse, Approved: approved}
}

// NewSubmitRecord builds a record submission
func NewSubmitRecord(record Record) Message {
	return Message{Kind: KindSubmitRecord, Record: record}
}

// NewUpdateSnapshot builds a full-state snapshot
func NewUpdateSnapshot(records []Record, rankings []RankingRow) Message {
	return Message{Kind: KindUpdateSnapshot, Records: records, Rankings: rankings}
}

// Validate checks that the kind is known and that no other variant's
// payload fields are populated
func (m Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(m.Kind))
	}

	hasUsername := m.Username != ""
	hasApproved := m.Approved
	hasRecord := m.Record != nil
	hasSnapshot := m.Records != nil || m.Rankings != nil

	var foreign bool
	switch m.Kind {
	case KindJoinRequest:
		foreign = hasApproved || hasRecord || hasSnapshot
	case KindJoinResponse:
		foreign = hasUsername || hasRecord || hasSnapshot
	case KindSubmitRecord:
		foreign = hasUsername || hasApproved || hasSnapshot
	case KindUpdateSnapshot:
		foreign = hasUsername || hasApproved || hasRecord
	}
	if foreign {
		return fmt.Errorf("%w: %s", ErrMixedPayload, m.Kind)
	}
	return nil
}
