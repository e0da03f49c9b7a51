package exports

import (
	"bytes"
	"encoding/json"
)

// EventsJSONL renders rows as JSON Lines and returns the payload with its
// blake3 checksum.
func EventsJSONL(rows []Row) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for i := range rows {
		if err := encoder.Encode(&rows[i]); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
