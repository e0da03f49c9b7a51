package exports

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"trustlance/integrations/archive"
)

// Row is the flattened export form of an archived escrow event.
type Row struct {
	Sequence    uint64            `json:"sequence"`
	Type        string            `json:"type"`
	EscrowID    uint64            `json:"escrow_id"`
	Attributes  map[string]string `json:"attributes"`
	CommittedAt time.Time         `json:"committed_at"`
	Digest      string            `json:"digest"`
}

// RowsFromRecords converts archive rows and stamps each with its digest.
func RowsFromRecords(records []archive.EventRecord) ([]Row, error) {
	out := make([]Row, 0, len(records))
	for i := range records {
		evt, err := records[i].Event()
		if err != nil {
			return nil, err
		}
		row := Row{
			Sequence:    records[i].Sequence,
			Type:        evt.Type,
			EscrowID:    records[i].EscrowID,
			Attributes:  evt.Attributes,
			CommittedAt: records[i].CommittedAt.UTC(),
		}
		row.Digest = RowDigest(row)
		out = append(out, row)
	}
	return out, nil
}

// RowDigest is the blake3 hash over the canonical row encoding: sequence,
// type, escrow id, commit time and the attributes sorted by key.
func RowDigest(row Row) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(row.Sequence, 10))
	b.WriteByte('|')
	b.WriteString(row.Type)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(row.EscrowID, 10))
	b.WriteByte('|')
	b.WriteString(row.CommittedAt.UTC().Format(time.RFC3339Nano))
	keys := make([]string, 0, len(row.Attributes))
	for k := range row.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(row.Attributes[k])
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
