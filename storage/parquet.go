// Package storage exports benchmark telemetry: live metrics for Prometheus
// and the finished per-second series as parquet
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// AggregateRank marks rows that hold the total across all workers
const AggregateRank = -1

// SeriesRecord is the create count of one worker, or of all workers, in one
// elapsed second
type SeriesRecord struct {
	RunID   string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Second  int64  `parquet:"name=second, type=INT64"`
	Rank    int32  `parquet:"name=rank, type=INT32"`
	Workers int32  `parquet:"name=workers, type=INT32"`
	Creates int64  `parquet:"name=creates, type=INT64"`
}

// ParquetWriter handles writing series records to a Parquet file
type ParquetWriter struct {
	writer    *writer.ParquetWriter
	file      source.ParquetFile
	mutex     sync.Mutex
	filePath  string
	batchSize int
	records   []SeriesRecord
}

// NewParquetWriter creates a new Parquet writer in outputDir
func NewParquetWriter(outputDir string, batchSize int) (*ParquetWriter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	fileName := fmt.Sprintf("createabunch-%s.parquet", timestamp)
	filePath := filepath.Join(outputDir, fileName)

	file, err := local.NewLocalFileWriter(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(file, new(SeriesRecord), 4)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	return &ParquetWriter{
		writer:    pw,
		file:      file,
		filePath:  filePath,
		batchSize: batchSize,
		records:   make([]SeriesRecord, 0, batchSize),
	}, nil
}

// WriteRecord adds a record to the batch and flushes if batch is full
func (pw *ParquetWriter) WriteRecord(record SeriesRecord) error {
	pw.mutex.Lock()
	defer pw.mutex.Unlock()

	pw.records = append(pw.records, record)

	if len(pw.records) >= pw.batchSize {
		return pw.flush()
	}

	return nil
}

// WriteSeries writes the aggregate series and, if present, the per-worker
// rows of the full matrix
func (pw *ParquetWriter) WriteSeries(runID string, workers int, sums []uint64, matrix [][]uint64) error {
	for i, v := range sums {
		err := pw.WriteRecord(SeriesRecord{
			RunID:   runID,
			Second:  int64(i),
			Rank:    AggregateRank,
			Workers: int32(workers),
			Creates: int64(v),
		})
		if err != nil {
			return err
		}
	}
	for i, row := range matrix {
		for rank, v := range row {
			err := pw.WriteRecord(SeriesRecord{
				RunID:   runID,
				Second:  int64(i),
				Rank:    int32(rank),
				Workers: int32(workers),
				Creates: int64(v),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// flush writes the current batch to the Parquet file
func (pw *ParquetWriter) flush() error {
	if len(pw.records) == 0 {
		return nil
	}

	for _, record := range pw.records {
		if err := pw.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	pw.records = pw.records[:0]
	return nil
}

// Close flushes any remaining records and closes the writer
func (pw *ParquetWriter) Close() error {
	pw.mutex.Lock()
	defer pw.mutex.Unlock()

	if err := pw.flush(); err != nil {
		return err
	}

	if err := pw.writer.WriteStop(); err != nil {
		return fmt.Errorf("failed to stop parquet writer: %w", err)
	}

	if err := pw.file.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file: %w", err)
	}

	return nil
}

// GetFilePath returns the path of the written file
func (pw *ParquetWriter) GetFilePath() string {
	return pw.filePath
}
