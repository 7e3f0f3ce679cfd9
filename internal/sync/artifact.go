package sync

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
)

// Artifact is the wire form of a transcript: the raw bytes hashed,
// gzip-compressed, and base64-encoded for the upload payload.
type Artifact struct {
	Hash         string
	Content      string
	Size         int64
	Lines        int
	InvalidLines int
}

// HashBytes returns the lowercase hex SHA-256 of data. The hash is
// computed over the raw file bytes, before compression, so it matches
// what the server recomputes for deduplication.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BuildArtifact prepares a transcript for upload. Line validation is
// advisory only: transcripts with malformed JSONL lines still upload,
// the count is surfaced so callers can log it.
func BuildArtifact(data []byte) (Artifact, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return Artifact{}, fmt.Errorf("compressing transcript: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Artifact{}, fmt.Errorf("compressing transcript: %w", err)
	}
	lines, invalid := countJSONLines(data)
	return Artifact{
		Hash:         HashBytes(data),
		Content:      base64.StdEncoding.EncodeToString(buf.Bytes()),
		Size:         int64(len(data)),
		Lines:        lines,
		InvalidLines: invalid,
	}, nil
}

func countJSONLines(data []byte) (lines, invalid int) {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		lines++
		if !gjson.ValidBytes(line) {
			invalid++
		}
	}
	return lines, invalid
}
