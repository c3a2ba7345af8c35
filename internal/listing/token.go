package listing

import (
	"encoding/base64"
	"encoding/json"
	"hash/crc32"

	s3err "github.com/boxdrive/boxdrive/internal/errors"
)

// continuationToken is the decoded form of a v2 listing cursor. The checksum
// catches truncated or hand-edited tokens that still decode as JSON. The key
// travels as raw bytes so keys that are not valid UTF-8 survive the JSON
// round trip intact.
type continuationToken struct {
	Version int    `json:"v"`
	Key     []byte `json:"k"`
	Check   uint32 `json:"c"`
}

const tokenVersion = 1

// EncodeContinuationToken wraps the last raw key of a truncated page into an
// opaque URL-safe cursor.
func EncodeContinuationToken(lastKey string) string {
	tok := continuationToken{
		Version: tokenVersion,
		Key:     []byte(lastKey),
		Check:   crc32.ChecksumIEEE([]byte(lastKey)),
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		// continuationToken contains only marshalable fields.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeContinuationToken recovers the key a listing should resume after.
// Any malformed, corrupted, or foreign token fails with InvalidToken; token
// bytes never reach a decoder that could panic on them.
func DecodeContinuationToken(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", s3err.ErrInvalidToken
	}
	var tok continuationToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", s3err.ErrInvalidToken
	}
	if tok.Version != tokenVersion || tok.Check != crc32.ChecksumIEEE(tok.Key) {
		return "", s3err.ErrInvalidToken
	}
	return string(tok.Key), nil
}
