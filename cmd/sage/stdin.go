package main

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeStdin implements the stdin decoding rule from §6: try UTF-8 first;
// on invalid UTF-8, decode as UTF-16LE, then strip a leading BOM. Hosts on
// Windows sometimes pipe UTF-16LE-with-BOM JSON to child process stdin.
func decodeStdin(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if utf8.Valid(data) {
		return stripBOM(data), nil
	}

	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	decoded, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return data, nil // fail-open: hand back the raw bytes, let JSON parsing fail cleanly
	}
	return stripBOM(decoded), nil
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
