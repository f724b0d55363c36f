package procscan

import "bytes"

// MaxTokens bounds how many command-line tokens are split out of one record.
// Arguments past this position are never examined.
const MaxTokens = 20

// FirstToken returns the bytes of buf up to the first NUL, or all of buf when
// it holds no NUL (a record truncated by the read limit).
func FirstToken(buf []byte) []byte {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return buf[:i]
	}
	return buf
}

// Tokenize splits a raw cmdline record into at most max tokens. A single
// trailing NUL terminates the record and does not produce an empty token;
// empty arguments between consecutive NULs are kept. max <= 0 means MaxTokens.
func Tokenize(buf []byte, max int) []string {
	if max <= 0 {
		max = MaxTokens
	}
	if len(buf) == 0 {
		return nil
	}
	if buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}

	tokens := make([]string, 0, min(max, bytes.Count(buf, []byte{0})+1))
	for len(tokens) < max {
		i := bytes.IndexByte(buf, 0)
		if i < 0 {
			tokens = append(tokens, string(buf))
			break
		}
		tokens = append(tokens, string(buf[:i]))
		buf = buf[i+1:]
	}
	return tokens
}

// Encode joins argv back into the NUL-terminated form the kernel exposes in
// /proc/<pid>/cmdline.
func Encode(argv []string) []byte {
	n := 0
	for _, a := range argv {
		n += len(a) + 1
	}
	buf := make([]byte, 0, n)
	for _, a := range argv {
		buf = append(buf, a...)
		buf = append(buf, 0)
	}
	return buf
}
