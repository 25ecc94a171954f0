package discovery

import "testing"

func TestParseAnnouncement(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		want   Identity
		wantOK bool
	}{
		{
			name:   "well formed",
			data:   "SCOUTNET;Regionals;alice",
			want:   Identity{Name: "Regionals", CreatorLabel: "alice"},
			wantOK: true,
		},
		{
			name:   "empty creator label",
			data:   "SCOUTNET;Regionals;",
			want:   Identity{Name: "Regionals"},
			wantOK: true,
		},
		{
			name:   "extra fields ignored",
			data:   "SCOUTNET;Regionals;alice;v2",
			want:   Identity{Name: "Regionals", CreatorLabel: "alice"},
			wantOK: true,
		},
		{
			name: "garbage",
			data: "GARBAGE",
		},
		{
			name: "only name",
			data: "SCOUTNET;onlyname",
		},
		{
			name: "wrong tag",
			data: "EDGECLI;Regionals;alice",
		},
		{
			name: "tag is only a prefix",
			data: "SCOUTNETX;Regionals;alice",
		},
		{
			name: "empty name",
			data: "SCOUTNET;;alice",
		},
		{
			name: "empty datagram",
			data: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAnnouncement([]byte(tt.data))
			if ok != tt.wantOK {
				t.Fatalf("ParseAnnouncement(%q) ok = %v, want %v", tt.data, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseAnnouncement(%q) = %+v, want %+v", tt.data, got, tt.want)
			}
		})
	}
}

func TestEncodeAnnouncement(t *testing.T) {
	got := string(EncodeAnnouncement(Identity{Name: "Regionals", CreatorLabel: "alice"}))
	if got != "SCOUTNET;Regionals;alice" {
		t.Fatalf("EncodeAnnouncement = %q", got)
	}
}

func TestIdentityValid(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want bool
	}{
		{"plain", Identity{Name: "Regionals", CreatorLabel: "alice"}, true},
		{"no creator", Identity{Name: "Regionals"}, true},
		{"blank name", Identity{Name: "  ", CreatorLabel: "alice"}, false},
		{"separator in name", Identity{Name: "a;b", CreatorLabel: "alice"}, false},
		{"separator in creator", Identity{Name: "Regionals", CreatorLabel: "al;ice"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
