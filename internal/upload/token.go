package upload

import "time"

// lexical is the alphabet used for upload tokens, in sort order.
const lexical = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const epochYear = 1990

// Token encodes t as six characters: year since 1990, month, day, hour,
// minute and second, each mapped through the lexical alphabet. It is a
// correlation tag, not a timestamp. Components outside the alphabet map to '-'.
func Token(t time.Time) string {
	parts := [6]int{
		t.Year() - epochYear,
		int(t.Month()),
		t.Day(),
		t.Hour(),
		t.Minute(),
		t.Second(),
	}

	var b [6]byte
	for i, v := range parts {
		if v < 0 || v >= len(lexical) {
			b[i] = '-'
			continue
		}
		b[i] = lexical[v]
	}
	return string(b[:])
}
