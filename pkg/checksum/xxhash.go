package checksum

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

func GetFileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	return GetReaderChecksum(file)
}

func GetReaderChecksum(r io.Reader) (string, error) {
	hasher := xxhash.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("failed to copy content to hasher: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func GetBytesChecksum(content []byte) string {
	var sum [8]byte
	h := xxhash.Sum64(content)
	for i := 7; i >= 0; i-- {
		sum[i] = byte(h)
		h >>= 8
	}
	return hex.EncodeToString(sum[:])
}

// CombineChecksums hashes an ordered list of checksums into one fingerprint.
func CombineChecksums(checksums []string) string {
	return GetBytesChecksum([]byte(strings.Join(checksums, ";")))
}
