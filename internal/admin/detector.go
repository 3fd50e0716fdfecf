// Package admin implements the hidden balance-change surface: a typed key
// sequence that unlocks it, and the short-lived token the unlocked client
// presents to the admin endpoints.
//
// The key sequence is a cheat code, not authentication. Anyone who can type
// it gets the token.
package admin

import "strings"

// UnlockCode is the key sequence that opens the balance-change panel.
const UnlockCode = "BALANCECHANGE"

// Detector watches a stream of key presses for the unlock code. It is not
// safe for concurrent use; give each client its own.
type Detector struct {
	code   string
	buffer string
}

// NewDetector returns a detector for code; "" means UnlockCode.
func NewDetector(code string) *Detector {
	if code == "" {
		code = UnlockCode
	}
	return &Detector{code: strings.ToUpper(code)}
}

// Feed records one key press and reports whether it completed the code.
// key is a key name as a browser reports it: single letters are appended
// upper-cased; anything else ("Enter", "1", " ") clears the buffer. The
// buffer keeps only the last len(code) letters and is cleared on a match.
func (d *Detector) Feed(key string) bool {
	if len(key) != 1 || !isLetter(key[0]) {
		d.buffer = ""
		return false
	}

	d.buffer += strings.ToUpper(key)
	if len(d.buffer) > len(d.code) {
		d.buffer = d.buffer[len(d.buffer)-len(d.code):]
	}
	if d.buffer == d.code {
		d.buffer = ""
		return true
	}
	return false
}

// Reset clears any partial sequence.
func (d *Detector) Reset() { d.buffer = "" }

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
