package registry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/rawblock/coinjoind/internal/backend"
	"github.com/rawblock/coinjoind/pkg/models"
)

// derSigFieldSize is the fixed 72-byte wire size of each padded DER
// signature inside a BondProof.
const derSigFieldSize = 72

// derHeaderByte is the unambiguous DER sequence header that makes stripping
// the left-padding deterministic: a signature's real bytes always start
// with 0x30, which a 0xff pad byte can never equal.
const derHeaderByte = 0x30

// padDER left-pads a DER signature to derSigFieldSize with 0xff bytes.
func padDER(sig []byte) ([derSigFieldSize]byte, error) {
	var out [derSigFieldSize]byte
	if len(sig) > derSigFieldSize {
		return out, fmt.Errorf("registry: DER signature longer than %d bytes", derSigFieldSize)
	}
	for i := range out {
		out[i] = 0xff
	}
	copy(out[derSigFieldSize-len(sig):], sig)
	return out, nil
}

// stripDERPad removes the 0xff left-padding, returning the real DER bytes.
func stripDERPad(field [derSigFieldSize]byte) ([]byte, error) {
	for i, b := range field {
		if b == derHeaderByte {
			return field[i:], nil
		}
		if b != 0xff {
			return nil, fmt.Errorf("registry: malformed DER padding (byte %d = 0x%02x)", i, b)
		}
	}
	return nil, fmt.Errorf("registry: DER signature field has no 0x30 header")
}

// SerializeBondProof encodes a BondProof to its fixed 252-byte wire form:
// nick_sig(72) | cert_sig(72) | cert_pubkey(33) | cert_expiry_le(2) |
// utxo_pubkey(33) | txid(32) | vout_le(4) | timelock_le(4).
func SerializeBondProof(b models.BondProof) ([]byte, error) {
	nickSig, err := padDER(b.NickSig)
	if err != nil {
		return nil, fmt.Errorf("nick_sig: %w", err)
	}
	certSig, err := padDER(b.CertSig)
	if err != nil {
		return nil, fmt.Errorf("cert_sig: %w", err)
	}
	if len(b.CertPubKey) != 33 {
		return nil, fmt.Errorf("cert_pubkey must be 33 bytes, got %d", len(b.CertPubKey))
	}
	if len(b.UTXOPubKey) != 33 {
		return nil, fmt.Errorf("utxo_pubkey must be 33 bytes, got %d", len(b.UTXOPubKey))
	}

	out := make([]byte, 0, models.BondProofSize)
	out = append(out, nickSig[:]...)
	out = append(out, certSig[:]...)
	out = append(out, b.CertPubKey...)
	out = binary.LittleEndian.AppendUint16(out, b.CertExpiry)
	out = append(out, b.UTXOPubKey...)
	out = append(out, b.Txid[:]...)
	out = binary.LittleEndian.AppendUint32(out, b.Vout)
	out = binary.LittleEndian.AppendUint32(out, b.Timelock)

	if len(out) != models.BondProofSize {
		return nil, fmt.Errorf("internal error: serialized bond proof is %d bytes, want %d", len(out), models.BondProofSize)
	}
	return out, nil
}

// ParseBondProof decodes the fixed 252-byte wire form back into a BondProof.
func ParseBondProof(data []byte) (models.BondProof, error) {
	if len(data) != models.BondProofSize {
		return models.BondProof{}, fmt.Errorf("registry: bond proof must be %d bytes, got %d", models.BondProofSize, len(data))
	}

	off := 0
	readField := func(n int) []byte {
		f := data[off : off+n]
		off += n
		return f
	}

	var nickSigField, certSigField [derSigFieldSize]byte
	copy(nickSigField[:], readField(derSigFieldSize))
	copy(certSigField[:], readField(derSigFieldSize))

	nickSig, err := stripDERPad(nickSigField)
	if err != nil {
		return models.BondProof{}, fmt.Errorf("nick_sig: %w", err)
	}
	certSig, err := stripDERPad(certSigField)
	if err != nil {
		return models.BondProof{}, fmt.Errorf("cert_sig: %w", err)
	}

	certPubKey := append([]byte(nil), readField(33)...)
	certExpiry := binary.LittleEndian.Uint16(readField(2))
	utxoPubKey := append([]byte(nil), readField(33)...)

	var txid [32]byte
	copy(txid[:], readField(32))

	vout := binary.LittleEndian.Uint32(readField(4))
	timelock := binary.LittleEndian.Uint32(readField(4))

	return models.BondProof{
		NickSig:    nickSig,
		CertSig:    certSig,
		CertPubKey: certPubKey,
		CertExpiry: certExpiry,
		UTXOPubKey: utxoPubKey,
		Txid:       txid,
		Vout:       vout,
		Timelock:   timelock,
	}, nil
}

// certExpiryMessage returns the signed plaintext for cert_sig: the cert
// pubkey followed by the DECIMAL ASCII representation of the absolute
// difficulty-retarget period number. This deliberately differs from the
// 2-byte little-endian wire encoding (spec.md §9 Open Question) — the two
// encodings of cert_expiry are never interchangeable.
func certExpiryMessage(certPubKey []byte, certExpiry uint16) []byte {
	msg := make([]byte, 0, len(certPubKey)+6)
	msg = append(msg, certPubKey...)
	msg = append(msg, []byte(strconv.Itoa(int(certExpiry)))...)
	return msg
}

// VerifyBondProof checks a bond proof's two signatures, its cert expiry,
// and, if oracle is non-nil, that the underlying UTXO exists with a
// positive value. The UTXO's scriptPubKey is not compared against
// utxo_pubkey/timelock, and no particular value is required beyond > 0.
func VerifyBondProof(ctx context.Context, b models.BondProof, makerNick string, currentHeight int64, oracle backend.Oracle) error {
	certPub, err := btcec.ParsePubKey(b.CertPubKey)
	if err != nil {
		return fmt.Errorf("registry: bad cert_pubkey: %w", err)
	}
	utxoPub, err := btcec.ParsePubKey(b.UTXOPubKey)
	if err != nil {
		return fmt.Errorf("registry: bad utxo_pubkey: %w", err)
	}

	certSig, err := ecdsa.ParseDERSignature(b.CertSig)
	if err != nil {
		return fmt.Errorf("registry: bad cert_sig: %w", err)
	}
	certDigest := sha256.Sum256(certExpiryMessage(b.CertPubKey, b.CertExpiry))
	if !certSig.Verify(certDigest[:], utxoPub) {
		return fmt.Errorf("registry: cert_sig does not verify against utxo_pubkey")
	}

	nickSig, err := ecdsa.ParseDERSignature(b.NickSig)
	if err != nil {
		return fmt.Errorf("registry: bad nick_sig: %w", err)
	}
	nickDigest := sha256.Sum256([]byte(makerNick))
	if !nickSig.Verify(nickDigest[:], certPub) {
		return fmt.Errorf("registry: nick_sig does not verify against cert_pubkey for nick %s", makerNick)
	}

	if int64(b.CertExpiry)*2016 <= currentHeight {
		return fmt.Errorf("registry: bond proof expired at height %d (current %d)", int64(b.CertExpiry)*2016, currentHeight)
	}

	if oracle == nil {
		return nil
	}

	txidHex := fmt.Sprintf("%x", reverseBytes(b.Txid[:]))
	utxo, err := oracle.GetUTXO(ctx, txidHex, b.Vout)
	if err != nil {
		return fmt.Errorf("registry: bond proof utxo %s:%d not found: %w", txidHex, b.Vout, err)
	}
	if utxo.Value <= 0 {
		return fmt.Errorf("registry: bond proof utxo %s:%d has no value", txidHex, b.Vout)
	}
	return nil
}

// reverseBytes returns a reversed copy of b, used to convert the proof's
// internal-byte-order txid into the conventional display/RPC order.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}
