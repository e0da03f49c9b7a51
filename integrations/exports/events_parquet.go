package exports

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	Sequence    int64  `parquet:"name=sequence, type=INT64"`
	Type        string `parquet:"name=type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	EscrowID    int64  `parquet:"name=escrow_id, type=INT64"`
	Client      string `parquet:"name=client, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Freelancer  string `parquet:"name=freelancer, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount      string `parquet:"name=amount, type=UTF8"`
	Asset       string `parquet:"name=asset, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Attributes  string `parquet:"name=attributes, type=UTF8"`
	CommittedAt string `parquet:"name=committed_at, type=UTF8"`
	Digest      string `parquet:"name=digest, type=UTF8"`
}

func toParquetRow(row Row) (*parquetRow, error) {
	attrs, err := json.Marshal(row.Attributes)
	if err != nil {
		return nil, err
	}
	return &parquetRow{
		Sequence:    int64(row.Sequence),
		Type:        row.Type,
		EscrowID:    int64(row.EscrowID),
		Client:      row.Attributes["client"],
		Freelancer:  row.Attributes["freelancer"],
		Amount:      row.Attributes["amount"],
		Asset:       row.Attributes["asset"],
		Attributes:  string(attrs),
		CommittedAt: row.CommittedAt.UTC().Format(time.RFC3339Nano),
		Digest:      row.Digest,
	}, nil
}

// WriteEventsParquet writes rows to path as a snappy-compressed Parquet file
// and returns the blake3 checksum of the written file.
func WriteEventsParquet(path string, rows []Row) (string, error) {
	records := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		pr, err := toParquetRow(row)
		if err != nil {
			return "", err
		}
		records = append(records, pr)
	}
	if err := writeParquetFile(path, new(parquetRow), records); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return checksum(data), nil
}

// writeParquetFile writes records using schema. On failure no file is left at
// path.
func writeParquetFile(path string, schema interface{}, records []interface{}) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(path)
		}
	}()

	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), schema, 1)
	if err != nil {
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range records {
		if err = pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err = pw.WriteStop(); err != nil {
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}
