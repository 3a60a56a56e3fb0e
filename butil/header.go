package butil

import "unicode/utf8"

// FixHeader pads or truncates header to exactly one UTF-8 rune: an empty
// string becomes a single space, and anything beyond the first rune is
// discarded. This mirrors the original library's BluetoothTools.fixLength
// fixup applied to every Message header.
func FixHeader(header string) string {
	if header == "" {
		return " "
	}
	r, size := utf8.DecodeRuneInString(header)
	if r == utf8.RuneError && size <= 1 {
		return " "
	}
	return string(r)
}
