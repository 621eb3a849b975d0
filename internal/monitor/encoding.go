package monitor

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// fileEncoding identifies the byte encoding detected for a tailed
// file. It is fixed for the lifetime of the file handle (spec §4.3).
type fileEncoding int

const (
	encodingUTF8 fileEncoding = iota
	encodingUTF16LE
	encodingUTF16BE
	encodingANSI // host code page fallback; treated as UTF-8-compatible ASCII on Linux
)

const sniffWindow = 4096

// detectEncoding examines up to the first 4 KiB of a file to classify
// its encoding: UTF-16 LE/BE by BOM or byte statistics, UTF-8 by
// round-trip validation, else the ANSI fallback. The statistics check
// runs before UTF-8 validation because NUL-interleaved ASCII is also
// valid UTF-8.
func detectEncoding(sample []byte) fileEncoding {
	if len(sample) > sniffWindow {
		sample = sample[:sniffWindow]
	}

	if bytes.HasPrefix(sample, []byte{0xFF, 0xFE}) {
		return encodingUTF16LE
	}
	if bytes.HasPrefix(sample, []byte{0xFE, 0xFF}) {
		return encodingUTF16BE
	}

	if looksUTF16LE(sample) {
		return encodingUTF16LE
	}
	if looksUTF16BE(sample) {
		return encodingUTF16BE
	}

	if utf8.Valid(sample) {
		return encodingUTF8
	}

	return encodingANSI
}

// looksUTF16LE and looksUTF16BE apply the byte-statistics heuristic:
// ASCII-heavy text encoded as UTF-16 shows a long run of zero bytes in
// every other position.
func looksUTF16LE(sample []byte) bool {
	return zeroRunAt(sample, 1) > len(sample)/4
}

func looksUTF16BE(sample []byte) bool {
	return zeroRunAt(sample, 0) > len(sample)/4
}

func zeroRunAt(sample []byte, phase int) int {
	count := 0
	for i := phase; i+1 < len(sample); i += 2 {
		if sample[i] == 0 {
			count++
		}
	}
	return count
}

// decoderFor returns the text decoder appropriate for the detected
// encoding. ANSI is treated as an identity pass-through on Linux,
// where there is no host code page distinct from UTF-8/ASCII.
func decoderFor(enc fileEncoding) *encoding.Decoder {
	switch enc {
	case encodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	case encodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	default:
		return nil
	}
}
