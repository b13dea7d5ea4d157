package legacy_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velodb/vela/internal/format/legacy"
)

func TestVersion1_RoundtripNoMeta(t *testing.T) {
	snap := legacy.Snapshot{
		Version:    legacy.Version1,
		MetricCode: 0,
		Dim:        3,
		Rows: []legacy.Row{
			{ID: 1, Vector: []float32{1, 0, 0}},
			{ID: 2, Vector: []float32{0, 1, 0}},
		},
	}

	buf, err := legacy.Encode(snap)
	require.NoError(t, err)

	decoded, err := legacy.Decode(buf)
	require.NoError(t, err)

	if diff := cmp.Diff(snap, decoded); diff != "" {
		t.Fatalf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestVersion2_RoundtripWithMetaAndANN(t *testing.T) {
	snap := legacy.Snapshot{
		Version:    legacy.Version2,
		MetricCode: 1,
		Dim:        2,
		ANN:        []byte("aux"),
		Rows: []legacy.Row{
			{ID: 5, Vector: []float32{1, 2}, Meta: []byte(`{"a":1}`)},
		},
	}

	buf, err := legacy.Encode(snap)
	require.NoError(t, err)

	decoded, err := legacy.Decode(buf)
	require.NoError(t, err)

	if diff := cmp.Diff(snap, decoded); diff != "" {
		t.Fatalf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_RejectsUnknownMetric(t *testing.T) {
	_, err := legacy.Encode(legacy.Snapshot{Version: legacy.Version1, MetricCode: 2, Dim: 1})
	assert.Error(t, err)
}

func TestDecode_RejectsUnknownVersion(t *testing.T) {
	snap := legacy.Snapshot{Version: legacy.Version1, MetricCode: 0, Dim: 1, Rows: []legacy.Row{{ID: 1, Vector: []float32{1}}}}

	buf, err := legacy.Encode(snap)
	require.NoError(t, err)

	buf[4] = 99 // corrupt version byte

	_, err = legacy.Decode(buf)
	assert.Error(t, err)
}
