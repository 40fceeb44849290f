// Package access gates private-room joins behind a join token plus a
// one-time email code. It tracks which rooms each connection has
// completed verification for.
package access

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/christopherjohns/relay/internal/otp"
	"github.com/christopherjohns/relay/internal/ws"
)

// CodeTTL is how long a generated code stays valid.
const CodeTTL = 5 * time.Minute

var (
	// ErrNoChallenge covers both "never requested" and "expired": the
	// store cannot tell them apart and the recovery is the same.
	ErrNoChallenge = errors.New("no pending code for this email, request a new one")
	ErrBadCode     = errors.New("incorrect verification code")
)

// Verifier owns OTP issuance and the per-connection verified-room
// set. Like the registry it is mutated only by the relay's dispatch
// loop; the otp.Store carries its own synchronization.
type Verifier struct {
	codes    otp.Store
	verified map[*ws.Client]map[string]struct{}

	// masterCode, when non-empty, is accepted for any pending
	// verification. Development convenience, off by default.
	masterCode string
}

// NewVerifier creates a Verifier backed by the given code store.
func NewVerifier(codes otp.Store) *Verifier {
	return &Verifier{
		codes:    codes,
		verified: make(map[*ws.Client]map[string]struct{}),
	}
}

// EnableMasterCode turns on the development override code.
func (v *Verifier) EnableMasterCode(code string) {
	v.masterCode = code
}

// Begin generates a fresh 6-digit code for the (room, email) pair,
// replacing any pending one, and returns it for delivery.
func (v *Verifier) Begin(roomID, email string) string {
	code := generateCode()
	v.codes.Put(roomID, email, code, CodeTTL)
	return code
}

// Verify checks the submitted code. On success the connection is
// marked verified for the room (idempotently) and the single-use code
// is deleted.
func (v *Verifier) Verify(c *ws.Client, roomID, email, code string) error {
	stored, ok := v.codes.Get(roomID, email)
	if !ok {
		if v.masterCode != "" && code == v.masterCode {
			v.markVerified(c, roomID)
			return nil
		}
		return ErrNoChallenge
	}
	if code != stored && !(v.masterCode != "" && code == v.masterCode) {
		return ErrBadCode
	}

	v.codes.Delete(roomID, email)
	v.markVerified(c, roomID)
	return nil
}

// IsVerified reports whether the connection has completed email
// verification for the room.
func (v *Verifier) IsVerified(c *ws.Client, roomID string) bool {
	_, ok := v.verified[c][roomID]
	return ok
}

// Forget drops all verification state for a closed connection. A new
// connection must re-verify.
func (v *Verifier) Forget(c *ws.Client) {
	delete(v.verified, c)
}

func (v *Verifier) markVerified(c *ws.Client, roomID string) {
	if v.verified[c] == nil {
		v.verified[c] = make(map[string]struct{})
	}
	v.verified[c][roomID] = struct{}{}
}

// generateCode returns a 6-digit numeric code.
func generateCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; there is no useful recovery.
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}
