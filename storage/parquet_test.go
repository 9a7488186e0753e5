package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func readSeries(t *testing.T, path string) []SeriesRecord {
	t.Helper()

	file, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer file.Close()

	pr, err := reader.NewParquetReader(file, new(SeriesRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	records := make([]SeriesRecord, pr.GetNumRows())
	require.NoError(t, pr.Read(&records))
	return records
}

func TestWriteSeries(t *testing.T) {
	dir := t.TempDir()

	pw, err := NewParquetWriter(dir, 2)
	require.NoError(t, err)

	sums := []uint64{3, 5}
	matrix := [][]uint64{{1, 2}, {4, 1}}
	require.NoError(t, pw.WriteSeries("run-1", 2, sums, matrix))
	require.NoError(t, pw.Close())

	_, err = os.Stat(pw.GetFilePath())
	require.NoError(t, err)

	records := readSeries(t, pw.GetFilePath())
	require.Len(t, records, 6)

	assert.Equal(t, SeriesRecord{RunID: "run-1", Second: 0, Rank: AggregateRank, Workers: 2, Creates: 3}, records[0])
	assert.Equal(t, SeriesRecord{RunID: "run-1", Second: 1, Rank: AggregateRank, Workers: 2, Creates: 5}, records[1])
	assert.Equal(t, SeriesRecord{RunID: "run-1", Second: 1, Rank: 0, Workers: 2, Creates: 4}, records[4])
	assert.Equal(t, SeriesRecord{RunID: "run-1", Second: 1, Rank: 1, Workers: 2, Creates: 1}, records[5])
}

func TestWriteSeriesWithoutMatrix(t *testing.T) {
	pw, err := NewParquetWriter(t.TempDir(), 100)
	require.NoError(t, err)

	require.NoError(t, pw.WriteSeries("run-2", 1, []uint64{7}, nil))
	require.NoError(t, pw.Close())

	records := readSeries(t, pw.GetFilePath())
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].Creates)
}
