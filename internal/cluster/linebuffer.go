package cluster

import "bytes"

// maxLineLength bounds a line that never sees a terminator
const maxLineLength = 64 * 1024

// lineCutset is stripped from both ends of every line. Nodes pad prompts and
// alerts with bell characters on either side of the carriage return.
const lineCutset = " \t\r\v\f\a"

// lineBuffer reassembles newline-terminated lines from arbitrary reads
type lineBuffer struct {
	pending []byte
}

// feed appends data and returns every completed, trimmed, non-empty line
func (b *lineBuffer) feed(data []byte) []string {
	b.pending = append(b.pending, data...)

	var lines []string
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		line := bytes.Trim(b.pending[:i], lineCutset)
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
		b.pending = b.pending[i+1:]
	}

	if len(b.pending) > maxLineLength {
		b.pending = b.pending[:0]
	}
	if len(b.pending) == 0 {
		// Drop the backing array once drained so it does not grow forever
		b.pending = nil
	}

	return lines
}
