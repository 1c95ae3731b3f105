package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EncodeJSONL renders entries as newline-delimited JSON, one entry per line.
// The daily S3 archive stores this format.
func EncodeJSONL(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode audit entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// ContentChecksum returns the hex SHA-256 of an archive body. The exporter
// stores it as object metadata so uploads can be verified later.
func ContentChecksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
