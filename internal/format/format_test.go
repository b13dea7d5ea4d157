package format_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velodb/vela/internal/format"
)

func TestDataSegment_Roundtrip(t *testing.T) {
	rows := []format.DataRow{
		{ID: 1, Meta: []byte(`{"tag":"a"}`), Vector: []float32{1, 0, 0}},
		{ID: 2, Vector: []float32{0, 1, 0}},
	}

	buf := format.EncodeDataSegment(rows)

	decoded, err := format.DecodeDataSegment(buf)
	require.NoError(t, err)

	if diff := cmp.Diff(rows, decoded); diff != "" {
		t.Fatalf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestDataSegment_BadMagic(t *testing.T) {
	_, err := format.DecodeDataSegment([]byte("XXXX1234"))
	assert.Error(t, err)
}

func TestIndexFile_RoundtripWithANN(t *testing.T) {
	f := format.IndexFile{
		MetricCode:   0,
		Dim:          3,
		Count:        2,
		StrategyCode: 1,
		ANN:          []byte("graph-bytes"),
		Entries: []format.IndexEntry{
			{ID: 1, Segment: "base.pg0.part0", Offset: 0, Length: 20},
			{ID: 2, Segment: "base.pg0.part0", Offset: 20, Length: 20},
		},
	}

	buf := format.EncodeIndexFile(f)

	decoded, err := format.DecodeIndexFile(buf)
	require.NoError(t, err)

	if diff := cmp.Diff(f, decoded); diff != "" {
		t.Fatalf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestIndexFile_RoundtripWithoutANN(t *testing.T) {
	f := format.IndexFile{
		MetricCode:   1,
		Dim:          4,
		Count:        1,
		StrategyCode: 0,
		Entries: []format.IndexEntry{
			{ID: 7, Segment: "seg", Offset: 3, Length: 9},
		},
	}

	buf := format.EncodeIndexFile(f)

	decoded, err := format.DecodeIndexFile(buf)
	require.NoError(t, err)
	assert.Nil(t, decoded.ANN)
	assert.Equal(t, f.Entries, decoded.Entries)
}

func TestManifestHeadCatalog_JSONRoundtrip(t *testing.T) {
	m := format.Manifest{
		Base:     "base",
		Segments: []format.SegmentRef{{Name: "base.pg0.part0", TargetKey: "primary"}},
		Epoch:    3,
		CommitTs: 1234,
	}

	buf, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded format.Manifest

	require.NoError(t, json.Unmarshal(buf, &decoded))
	assert.Equal(t, m, decoded)

	head := format.Head{Manifest: "base.manifest.json", Epoch: 3, CommitTs: 1234}

	headBuf, err := json.Marshal(head)
	require.NoError(t, err)

	var decodedHead format.Head

	require.NoError(t, json.Unmarshal(headBuf, &decodedHead))
	assert.Equal(t, head, decodedHead)

	cat := format.Catalog{Version: 1, Dim: 3, MetricCode: 0, StrategyCode: 1}

	catBuf, err := json.Marshal(cat)
	require.NoError(t, err)

	var decodedCat format.Catalog

	require.NoError(t, json.Unmarshal(catBuf, &decodedCat))
	assert.Equal(t, cat, decodedCat)
}
