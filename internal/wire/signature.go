package wire

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// DirectOnionNetwork is the hostid literal used for direct (non-directory)
// peer channels.
const DirectOnionNetwork = "onion-network"

// SignPlaintext builds hostid||command||" "||args, the exact byte string
// that gets signed for anti-replay protection. hostid binds the signature
// to one specific transport (a directory's onion address, or the direct-peer
// literal), so a message captured on one channel cannot be replayed on
// another.
func SignPlaintext(hostid, command string, args []string) []byte {
	var b strings.Builder
	b.WriteString(hostid)
	b.WriteString(command)
	b.WriteByte(' ')
	b.WriteString(strings.Join(args, " "))
	return []byte(b.String())
}

// Sign produces a DER-encoded ECDSA signature over SignPlaintext(hostid,
// command, args) using priv.
func Sign(priv *btcec.PrivateKey, hostid, command string, args []string) []byte {
	digest := sha256.Sum256(SignPlaintext(hostid, command, args))
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}

// Verify checks a DER signature against the expected hostid/command/args
// plaintext and public key.
func Verify(pub *btcec.PublicKey, hostid, command string, args []string, sigDER []byte) error {
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return fmt.Errorf("wire: parse signature: %w", err)
	}
	digest := sha256.Sum256(SignPlaintext(hostid, command, args))
	if !sig.Verify(digest[:], pub) {
		return fmt.Errorf("wire: anti-replay signature verification failed")
	}
	return nil
}
