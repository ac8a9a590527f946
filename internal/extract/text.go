package extract

import (
	"bytes"
	"os"
	"unicode/utf8"
)

// binarySniffLen is how many leading bytes are checked for NUL.
const binarySniffLen = 8000

// readText returns the file content as UTF-8 text. Content with NUL bytes
// in its head is treated as binary and rejected; invalid UTF-8 sequences
// are replaced.
func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if isBinary(data) {
		return "", errBinary
	}
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("\uFFFD"))
	}
	return string(data), nil
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > binarySniffLen {
		head = head[:binarySniffLen]
	}
	return bytes.IndexByte(head, 0) >= 0
}
