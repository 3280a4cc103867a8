package linebuf

import "bytes"

// replaceBytes overwrites every src in b with dst and returns the index of the
// first one replaced, or -1 if there was none.
func replaceBytes(b []byte, src, dst byte) int {
	if src == dst {
		return -1
	}
	first := -1
	pos := 0
	for {
		i := bytes.IndexByte(b[pos:], src)
		if i < 0 {
			return first
		}
		i += pos
		if first < 0 {
			first = i
		}
		b[i] = dst
		pos = i + 1
		// runs of src are common in binary data (NUL padding)
		for pos < len(b) && b[pos] == src {
			b[pos] = dst
			pos++
		}
	}
}
