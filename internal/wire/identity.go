package wire

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// NickVersion is the single version digit embedded in every nick.
const NickVersion = "1"

// NickFromPubKey derives a peer's nick from its signing public key:
// "J" || version_digit || base58(sha256(pubkey)[0..14]).
func NickFromPubKey(pubKeyCompressed []byte) string {
	h := sha256.Sum256(pubKeyCompressed)
	return "J" + NickVersion + base58.Encode(h[:14])
}

// ValidNick reports whether nick has the expected shape for a given pubkey.
func ValidNick(nick string, pubKeyCompressed []byte) bool {
	return nick == NickFromPubKey(pubKeyCompressed)
}

// ErrBadNick is returned when a claimed nick does not match its pubkey.
var ErrBadNick = fmt.Errorf("wire: nick does not match claimed public key")
