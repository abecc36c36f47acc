// Package textscan provides a small whitespace-delimited line tokenizer
// shared by the plain-text input formats this module reads: genetic maps,
// reference-panel maps, model files, and ancestry-proportion tables. None of
// these formats benefit from a general CSV/TSV parser (there's no quoting,
// column counts vary by line, and comment lines are common), so a direct
// tokenizer is simplest.
package textscan

// Tokens splits curLine into up to len(tokens) whitespace-delimited fields,
// writing each field as a subslice of curLine into tokens and returning the
// number of fields found. Any run of bytes <= ' ' is treated as a delimiter.
func Tokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// IsComment reports whether line is blank or a '#'-prefixed comment once
// leading whitespace is stripped.
func IsComment(line []byte) bool {
	i := 0
	for i < len(line) && line[i] <= ' ' {
		i++
	}
	return i == len(line) || line[i] == '#'
}
