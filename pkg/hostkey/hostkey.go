// Package hostkey implements trust-on-first-use verification of SSH host identities.
//
// The transport always accepts whatever key the server presents so that it can be
// captured. Trust is decided afterwards by comparing the captured fingerprint with
// the one an operator accepted earlier:
//
//	fp := hostkey.Fingerprint(key)
//	switch hostkey.Verify(host.StoredFingerprint, fp) {
//	case hostkey.Match:
//	    // known host, proceed
//	case hostkey.Unseen:
//	    // ask the operator to accept fp
//	case hostkey.Mismatch:
//	    // hard stop, never reconnect silently
//	}
package hostkey

import (
	"crypto/subtle"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Verdict is the outcome of comparing an observed fingerprint with the stored one.
type Verdict int

// Verdicts.
const (
	// Unseen means no fingerprint has been accepted for the host yet.
	Unseen Verdict = iota
	// Match means the observed fingerprint equals the stored one.
	Match
	// Mismatch means the host presented a different key than the accepted one.
	Mismatch
)

// String returns the string representation of a Verdict.
func (v Verdict) String() string {
	switch v {
	case Unseen:
		return "unseen"
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Fingerprint returns the SHA-256 fingerprint of a host key in "SHA256:<base64>" form.
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// Verify compares the fingerprint observed during a handshake with the stored one.
// An empty stored fingerprint yields Unseen. A changed fingerprint is never accepted.
func Verify(stored, observed string) Verdict {
	if stored == "" {
		return Unseen
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(observed)) == 1 {
		return Match
	}

	return Mismatch
}

// Recorder captures the key presented during an SSH handshake.
// Its Callback accepts any key; the caller verifies the recorded
// fingerprint once the handshake completes.
type Recorder struct {
	mu  sync.Mutex // rekeying calls the callback again after the handshake
	key ssh.PublicKey
}

// Callback returns an ssh.HostKeyCallback that records the presented key.
func (r *Recorder) Callback() ssh.HostKeyCallback {
	return func(_ string, _ net.Addr, key ssh.PublicKey) error {
		r.mu.Lock()
		r.key = key
		r.mu.Unlock()

		return nil
	}
}

// Fingerprint returns the fingerprint of the recorded key, or "" if the server
// never presented one.
func (r *Recorder) Fingerprint() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.key == nil {
		return ""
	}

	return Fingerprint(r.key)
}
