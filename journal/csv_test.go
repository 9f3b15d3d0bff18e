package journal

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportCSV(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.Append(mkTx("T1", "AAPL", "10", "5.25", t0))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(&buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"T1", "acct", "AAPL", "10", "5.25", "2024-01-02T09:30:00Z", "pending", "0"}, rows[1])
}

func TestExportCSVEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, nil))
	assert.Equal(t, "id,account,instrument,quantity,price,time,state,revision\n", buf.String())
}
