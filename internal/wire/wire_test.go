package wire

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/neetlogiq/datapack/internal/codec"
	"github.com/neetlogiq/datapack/pkg/types"
)

func sampleCutoffs() []types.Record {
	return []types.Record{
		types.CutoffRecord{ID: "k1", CollegeID: "c1", CourseID: "mbbs", Stream: "MEDICAL", Level: types.LevelUG,
			Year: 2024, Round: 1, Quota: "AIQ", SeatCategory: "OPEN", OpeningRank: 12, ClosingRank: 480},
		types.CutoffRecord{ID: "k2", CollegeID: "c2", CourseID: "md-gm", Stream: "DNB", Level: types.LevelPG,
			Year: 2023, Round: 3, Quota: "STATE", SeatCategory: "OBC", OpeningRank: 900, ClosingRank: 5100},
	}
}

func TestChunkRoundTripThroughCodecs(t *testing.T) {
	cases := map[types.RecordKind][]types.Record{
		types.KindCutoff: sampleCutoffs(),
		types.KindCollege: {
			types.College{ID: "c1", Name: "AIIMS New Delhi", State: "Delhi", City: "New Delhi", Stream: "MEDICAL", Management: "GOVT", Seats: 132},
			types.College{ID: "c3", Name: "Govt Dental College", State: "Kerala", Stream: "DENTAL"},
		},
		types.KindCourse: {
			types.Course{ID: "mbbs", Name: "MBBS", Stream: "MEDICAL", Level: types.LevelUG, DurationYears: 5},
			types.Course{ID: "mds", Name: "MDS", Stream: "DENTAL", Level: types.LevelPG, DurationYears: 3},
		},
	}

	for kind, records := range cases {
		for _, c := range []codec.Codec{codec.Gzip{}, codec.Snappy{}, codec.Identity{}} {
			raw, err := EncodeChunk(kind, records)
			require.NoError(t, err)

			compressed, err := codec.Compress(c, raw)
			require.NoError(t, err)
			decompressed, err := codec.Decompress(c, compressed)
			require.NoError(t, err)

			got, err := DecodeChunk(decompressed)
			require.NoError(t, err)
			require.Equal(t, kind, got.Kind)
			if diff := cmp.Diff(records, got.Records); diff != "" {
				t.Errorf("%s/%s round trip mismatch (-want +got):\n%s", kind, c.Name(), diff)
			}
		}
	}
}

func TestEncodeUsesCompactKeys(t *testing.T) {
	raw, err := EncodeChunk(types.KindCutoff, sampleCutoffs()[:1])
	require.NoError(t, err)

	s := string(raw)
	require.True(t, strings.Contains(s, `"co":"c1"`), s)
	require.False(t, strings.Contains(s, "college_id"), s)
}

func TestEncodeRejectsMixedKinds(t *testing.T) {
	records := append(sampleCutoffs(), types.College{ID: "c1", Stream: "MEDICAL"})
	_, err := EncodeChunk(types.KindCutoff, records)
	require.Error(t, err)

	_, err = EncodeChunk(types.RecordKind("students"), nil)
	require.ErrorIs(t, err, types.ErrUnknownRecordKind)
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	_, err := DecodeChunk([]byte("not json"))
	require.Error(t, err)

	_, err = DecodeChunk([]byte(`{"v":2,"k":"cutoffs","d":[]}`))
	require.Error(t, err)

	_, err = DecodeChunk([]byte(`{"v":1,"k":"students","d":[]}`))
	require.ErrorIs(t, err, types.ErrUnknownRecordKind)
}

func TestDecodeEmptyChunk(t *testing.T) {
	raw, err := EncodeChunk(types.KindCourse, nil)
	require.NoError(t, err)

	got, err := DecodeChunk(raw)
	require.NoError(t, err)
	require.Equal(t, types.KindCourse, got.Kind)
	require.Empty(t, got.Records)
}

func TestChunkSerializer(t *testing.T) {
	var s ChunkSerializer
	in := Chunk{Kind: types.KindCutoff, Records: sampleCutoffs()}

	data, err := s.Marshal(in)
	require.NoError(t, err)
	out, err := s.Unmarshal(data)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("serializer mismatch (-want +got):\n%s", diff)
	}
}
