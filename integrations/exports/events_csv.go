package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"
)

// EventsCSV renders rows as CSV with the attributes column holding a JSON
// object.
func EventsCSV(rows []Row) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "type", "escrow_id", "attributes", "committed_at", "digest"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		attrs, err := json.Marshal(row.Attributes)
		if err != nil {
			return nil, "", err
		}
		record := []string{
			strconv.FormatUint(row.Sequence, 10),
			row.Type,
			strconv.FormatUint(row.EscrowID, 10),
			string(attrs),
			row.CommittedAt.UTC().Format(time.RFC3339Nano),
			row.Digest,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
