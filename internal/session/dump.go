package session

import (
	"fmt"
	"strings"
)

const dumpRowBytes = 16

// FormatDump renders data as 16-byte hex/ASCII rows:
//
//	0x00000000deadb000: 48 65 6c 6c 6f ...                               Hello...
//
// The hex column is padded to the full-row width (47 columns) so the ASCII
// column lines up on short final rows.
func FormatDump(va uint64, data []byte) []string {
	lines := make([]string, 0, (len(data)+dumpRowBytes-1)/dumpRowBytes)
	for i := 0; i < len(data); i += dumpRowBytes {
		end := i + dumpRowBytes
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]

		var hexPart strings.Builder
		var asciiPart strings.Builder
		for j, b := range chunk {
			if j > 0 {
				hexPart.WriteByte(' ')
			}
			fmt.Fprintf(&hexPart, "%02x", b)
			if b >= 0x20 && b < 0x7f {
				asciiPart.WriteByte(b)
			} else {
				asciiPart.WriteByte('.')
			}
		}

		lines = append(lines, fmt.Sprintf("0x%016x: %-47s  %s", va+uint64(i), hexPart.String(), asciiPart.String()))
	}
	return lines
}
