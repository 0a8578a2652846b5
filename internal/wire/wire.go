// Package wire owns the compact short-key schema that chunks are stored in.
// Nothing outside this package sees compact records: the builder encodes
// domain records into it and the loader (and the persistent cache tier)
// expand it back through DecodeChunk.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/neetlogiq/datapack/pkg/types"
)

// SchemaVersion is written into every chunk payload.
const SchemaVersion = 1

// Chunk is the decoded content of one chunk: a single record kind and its
// records in storage order.
type Chunk struct {
	Kind    types.RecordKind
	Records []types.Record
}

type payload struct {
	Version int              `json:"v"`
	Kind    types.RecordKind `json:"k"`
	Data    json.RawMessage  `json:"d"`
}

type compactCollege struct {
	I  string `json:"i"`
	N  string `json:"n"`
	St string `json:"st"`
	Ci string `json:"ci,omitempty"`
	S  string `json:"s"`
	M  string `json:"m,omitempty"`
	Se int    `json:"se,omitempty"`
}

type compactCourse struct {
	I string `json:"i"`
	N string `json:"n"`
	S string `json:"s"`
	L string `json:"l,omitempty"`
	D int    `json:"d,omitempty"`
}

type compactCutoff struct {
	I  string `json:"i"`
	Co string `json:"co"`
	Cr string `json:"cr"`
	S  string `json:"s"`
	L  string `json:"l,omitempty"`
	Y  int    `json:"y"`
	R  int    `json:"r"`
	Q  string `json:"q,omitempty"`
	Sc string `json:"sc,omitempty"`
	O  int    `json:"o"`
	C  int    `json:"c"`
}

// EncodeChunk serializes records of one kind into the compact payload.
// Every record must be of the given kind.
func EncodeChunk(kind types.RecordKind, records []types.Record) ([]byte, error) {
	var (
		data any
		err  error
	)
	switch kind {
	case types.KindCollege:
		data, err = compactColleges(records)
	case types.KindCourse:
		data, err = compactCourses(records)
	case types.KindCutoff:
		data, err = compactCutoffs(records)
	default:
		return nil, fmt.Errorf("wire: %w: %q", types.ErrUnknownRecordKind, kind)
	}
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", kind, err)
	}
	out, err := json.Marshal(payload{Version: SchemaVersion, Kind: kind, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}
	return out, nil
}

// DecodeChunk expands a compact payload into fresh domain records.
func DecodeChunk(data []byte) (Chunk, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Chunk{}, fmt.Errorf("wire: unmarshal payload: %w", err)
	}
	if p.Version != SchemaVersion {
		return Chunk{}, fmt.Errorf("wire: unsupported schema version %d", p.Version)
	}
	if len(p.Data) == 0 {
		return Chunk{Kind: p.Kind}, nil
	}

	var (
		records []types.Record
		err     error
	)
	switch p.Kind {
	case types.KindCollege:
		records, err = expandColleges(p.Data)
	case types.KindCourse:
		records, err = expandCourses(p.Data)
	case types.KindCutoff:
		records, err = expandCutoffs(p.Data)
	default:
		return Chunk{}, fmt.Errorf("wire: %w: %q", types.ErrUnknownRecordKind, p.Kind)
	}
	if err != nil {
		return Chunk{}, fmt.Errorf("wire: expand %s: %w", p.Kind, err)
	}
	return Chunk{Kind: p.Kind, Records: records}, nil
}

func compactColleges(records []types.Record) ([]compactCollege, error) {
	out := make([]compactCollege, 0, len(records))
	for i, r := range records {
		c, ok := r.(types.College)
		if !ok {
			return nil, mismatch(types.KindCollege, i, r)
		}
		out = append(out, compactCollege{I: c.ID, N: c.Name, St: c.State, Ci: c.City, S: c.Stream, M: c.Management, Se: c.Seats})
	}
	return out, nil
}

func compactCourses(records []types.Record) ([]compactCourse, error) {
	out := make([]compactCourse, 0, len(records))
	for i, r := range records {
		c, ok := r.(types.Course)
		if !ok {
			return nil, mismatch(types.KindCourse, i, r)
		}
		out = append(out, compactCourse{I: c.ID, N: c.Name, S: c.Stream, L: string(c.Level), D: c.DurationYears})
	}
	return out, nil
}

func compactCutoffs(records []types.Record) ([]compactCutoff, error) {
	out := make([]compactCutoff, 0, len(records))
	for i, r := range records {
		c, ok := r.(types.CutoffRecord)
		if !ok {
			return nil, mismatch(types.KindCutoff, i, r)
		}
		out = append(out, compactCutoff{
			I: c.ID, Co: c.CollegeID, Cr: c.CourseID, S: c.Stream, L: string(c.Level),
			Y: c.Year, R: c.Round, Q: c.Quota, Sc: c.SeatCategory, O: c.OpeningRank, C: c.ClosingRank,
		})
	}
	return out, nil
}

func expandColleges(raw json.RawMessage) ([]types.Record, error) {
	var in []compactCollege
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]types.Record, len(in))
	for i, c := range in {
		out[i] = types.College{ID: c.I, Name: c.N, State: c.St, City: c.Ci, Stream: c.S, Management: c.M, Seats: c.Se}
	}
	return out, nil
}

func expandCourses(raw json.RawMessage) ([]types.Record, error) {
	var in []compactCourse
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]types.Record, len(in))
	for i, c := range in {
		out[i] = types.Course{ID: c.I, Name: c.N, Stream: c.S, Level: types.Level(c.L), DurationYears: c.D}
	}
	return out, nil
}

func expandCutoffs(raw json.RawMessage) ([]types.Record, error) {
	var in []compactCutoff
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]types.Record, len(in))
	for i, c := range in {
		out[i] = types.CutoffRecord{
			ID: c.I, CollegeID: c.Co, CourseID: c.Cr, Stream: c.S, Level: types.Level(c.L),
			Year: c.Y, Round: c.R, Quota: c.Q, SeatCategory: c.Sc, OpeningRank: c.O, ClosingRank: c.C,
		}
	}
	return out, nil
}

func mismatch(want types.RecordKind, idx int, r types.Record) error {
	if r == nil {
		return fmt.Errorf("wire: record %d is nil, want %s", idx, want)
	}
	return fmt.Errorf("wire: record %d (%s) is %s, want %s", idx, r.RecordID(), r.Kind(), want)
}

// ChunkSerializer adapts EncodeChunk/DecodeChunk to the persistent cache
// tier, so cached chunks go through the same expansion as fetched ones.
type ChunkSerializer struct{}

func (ChunkSerializer) Marshal(c Chunk) ([]byte, error) {
	return EncodeChunk(c.Kind, c.Records)
}

func (ChunkSerializer) Unmarshal(data []byte) (Chunk, error) {
	return DecodeChunk(data)
}
