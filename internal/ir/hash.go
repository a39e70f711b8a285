package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainBatch = "stepsplit/batch/v" + SchemaVersion
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// digestRow is the hashed projection of a CairoStepsRow. Only the identity
// and the computed value take part; descriptive columns do not.
type digestRow struct {
	BlockNumber     int64  `json:"block_number"`
	TraceID         string `json:"trace_id"`
	Steps           int64  `json:"steps"`
	IndividualSteps int64  `json:"individual_steps"`
}

// BatchDigest computes a content hash over the rows of a committed range.
// Row order matters: the digest pins the projection order as well as the
// values. Strings are NFC-normalized before hashing.
func BatchDigest(rows []CairoStepsRow) (string, error) {
	projected := make([]digestRow, len(rows))
	for i, r := range rows {
		projected[i] = digestRow{
			BlockNumber:     r.BlockNumber,
			TraceID:         norm.NFC.String(r.TraceID),
			Steps:           r.StepsOrZero(),
			IndividualSteps: r.IndividualSteps,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(projected); err != nil {
		return "", fmt.Errorf("BatchDigest: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainBatch, buf.Bytes()), nil
}

// MustBatchDigest is like BatchDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustBatchDigest(rows []CairoStepsRow) string {
	d, err := BatchDigest(rows)
	if err != nil {
		panic(err)
	}
	return d
}
