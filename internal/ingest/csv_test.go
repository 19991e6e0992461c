package ingest

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tealfin/walkforward/internal/timeseries"
)

func TestReadCSV(t *testing.T) {
	data := `timestamp,ret,volume
2024-01-01,0.01,100
2024-01-02,-0.02,120
2024-01-03,,90
2024-01-04,0.03,nan
`
	frame, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 4, frame.Len())
	assert.Equal(t, []string{"ret", "volume"}, frame.Columns())
	assert.Equal(t, time.UTC, frame.At(0).Location())

	ret, err := frame.Column("ret")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ret[2]), "empty cell becomes NaN")

	vol, err := frame.Column("volume")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(vol[3]), "literal nan becomes NaN")
}

func TestReadCSVTimestampFormats(t *testing.T) {
	data := `timestamp,ret
2024-01-01T10:00:00Z,0.01
2024-01-01T12:00:00+01:00,0.02
`
	frame, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 2, frame.Len())
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), frame.At(0))
	// The +01:00 stamp normalizes to 11:00 UTC.
	assert.Equal(t, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC), frame.At(1))
}

func TestReadCSVUnixSeconds(t *testing.T) {
	data := "timestamp,ret\n1704067200,0.01\n1704153600,0.02\n"
	frame, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), frame.At(0))
}

func TestReadCSVRejectsDisorder(t *testing.T) {
	data := `timestamp,ret
2024-01-02,0.01
2024-01-01,0.02
`
	_, err := ReadCSV(strings.NewReader(data))
	var schemaErr *timeseries.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestReadCSVRejectsDuplicateTimestamps(t *testing.T) {
	data := `timestamp,ret
2024-01-01,0.01
2024-01-01,0.02
`
	_, err := ReadCSV(strings.NewReader(data))
	var schemaErr *timeseries.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestReadCSVMalformedInput(t *testing.T) {
	cases := map[string]string{
		"no value columns":  "timestamp\n2024-01-01\n",
		"duplicate columns": "timestamp,ret,ret\n2024-01-01,1,2\n",
		"bad timestamp":     "timestamp,ret\nyesterday,0.01\n",
		"bad number":        "timestamp,ret\n2024-01-01,abc\n",
		"empty header name": "timestamp,\n2024-01-01,1\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(data))
			assert.Error(t, err)
		})
	}
}
