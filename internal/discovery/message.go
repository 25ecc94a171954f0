package discovery

import (
	"strings"
)

const (
	// MagicTag prefixes every announcement datagram
	MagicTag = "SCOUTNET"
	// FieldSeparator splits the announcement fields
	FieldSeparator = ";"
	// MaxMessageSize is the maximum UDP payload size (stay under MTU)
	MaxMessageSize = 1024
)

// Identity names a hosted session on the LAN
type Identity struct {
	Name         string `json:"name"`
	CreatorLabel string `json:"creator_label"`
}

// Valid reports whether the identity can be carried by an announcement
func (id Identity) Valid() bool {
	if strings.TrimSpace(id.Name) == "" {
		return false
	}
	if strings.Contains(id.Name, FieldSeparator) || strings.Contains(id.CreatorLabel, FieldSeparator) {
		return false
	}
	return len(EncodeAnnouncement(id)) <= MaxMessageSize
}

// EncodeAnnouncement renders "<magic>;<name>;<creator>"
func EncodeAnnouncement(id Identity) []byte {
	return []byte(MagicTag + FieldSeparator + id.Name + FieldSeparator + id.CreatorLabel)
}

// ParseAnnouncement decodes a datagram. Anything not starting with the magic
// tag, with fewer than three fields, or with an empty name is noise.
func ParseAnnouncement(data []byte) (Identity, bool) {
	fields := strings.Split(string(data), FieldSeparator)
	if len(fields) < 3 || fields[0] != MagicTag {
		return Identity{}, false
	}
	if fields[1] == "" {
		return Identity{}, false
	}
	return Identity{Name: fields[1], CreatorLabel: fields[2]}, true
}
