// Package tally is the aggregation side of a scouting session: it keeps every
// submitted entry and ranks teams by their average score.
//
// A Tally is not safe for concurrent use; the host only touches it from the
// session dispatcher.
package tally

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/scoutnet/scoutnet/internal/wire"
)

// ErrInvalidEntry is returned for records that are not a scouting entry
var ErrInvalidEntry = errors.New("tally: invalid entry")

// Entry is one scout's observation of one team
type Entry struct {
	Scout string  `json:"scout"`
	Team  string  `json:"team"`
	Score float64 `json:"score"`
}

// Record encodes the entry for the session stream
func (e Entry) Record() (wire.Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return wire.Record(data), nil
}

// ParseLine reads "<team> <score>" as typed by a scout
func ParseLine(scout, line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Entry{}, fmt.Errorf("%w: expected \"<team> <score>\", got %q", ErrInvalidEntry, line)
	}
	score, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: score %q: %v", ErrInvalidEntry, fields[1], err)
	}
	return Entry{Scout: scout, Team: fields[0], Score: score}, nil
}

// DecodeEntry parses a record produced by Entry.Record
func DecodeEntry(record wire.Record) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(record, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if strings.TrimSpace(e.Team) == "" {
		return Entry{}, fmt.Errorf("%w: missing team", ErrInvalidEntry)
	}
	return e, nil
}

// Ranking is one row of the team table
type Ranking struct {
	Rank    int     `json:"rank"`
	Team    string  `json:"team"`
	Average float64 `json:"average"`
	Entries int     `json:"entries"`
}

// DecodeRankings parses the rows of a snapshot, skipping rows it cannot read
func DecodeRankings(rows []wire.RankingRow) []Ranking {
	out := make([]Ranking, 0, len(rows))
	for _, row := range rows {
		var r Ranking
		if err := json.Unmarshal(row, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Tally accumulates entries in arrival order
type Tally struct {
	records []wire.Record
	entries []Entry
}

// New creates an empty tally
func New() *Tally {
	return &Tally{}
}

// Add validates and stores a record. Duplicates are kept; every submission counts.
func (t *Tally) Add(record wire.Record) (Entry, error) {
	e, err := DecodeEntry(record)
	if err != nil {
		return Entry{}, err
	}
	t.records = append(t.records, append(wire.Record(nil), record...))
	t.entries = append(t.entries, e)
	return e, nil
}

// Len returns the number of stored entries
func (t *Tally) Len() int {
	return len(t.entries)
}

// Records returns the stored records in arrival order
func (t *Tally) Records() []wire.Record {
	return append([]wire.Record(nil), t.records...)
}

// Rankings orders teams by average score, highest first, ties by team name
func (t *Tally) Rankings() []Ranking {
	type sum struct {
		total float64
		count int
	}
	sums := make(map[string]*sum)
	for _, e := range t.entries {
		s, ok := sums[e.Team]
		if !ok {
			s = &sum{}
			sums[e.Team] = s
		}
		s.total += e.Score
		s.count++
	}

	out := make([]Ranking, 0, len(sums))
	for team, s := range sums {
		out = append(out, Ranking{
			Team:    team,
			Average: s.total / float64(s.count),
			Entries: s.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Average != out[j].Average {
			return out[i].Average > out[j].Average
		}
		return out[i].Team < out[j].Team
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// RankingRows encodes Rankings for a snapshot
func (t *Tally) RankingRows() ([]wire.RankingRow, error) {
	rankings := t.Rankings()
	rows := make([]wire.RankingRow, 0, len(rankings))
	for _, r := range rankings {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		rows = append(rows, wire.RankingRow(data))
	}
	return rows, nil
}
