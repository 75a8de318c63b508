package wire

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}

	args := []string{"500000", "npub", "commit"}
	sig := Sign(priv, DirectOnionNetwork, "!fill", args)

	if err := Verify(priv.PubKey(), DirectOnionNetwork, "!fill", args, sig); err != nil {
		t.Errorf("Verify() = %v, want nil", err)
	}
}

func TestVerifyFailsAcrossChannels(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	args := []string{"500000"}

	sig := Sign(priv, "directory1.onion:5222", "!auth", args)

	// Replayed on a different directory: the hostid binding differs, so
	// verification must fail (spec.md Scenario 5).
	if err := Verify(priv.PubKey(), "directory2.onion:5222", "!auth", args, sig); err == nil {
		t.Error("expected verification to fail when hostid differs (cross-channel replay)")
	}
}

func TestNickFromPubKeyDeterministic(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	compressed := priv.PubKey().SerializeCompressed()

	n1 := NickFromPubKey(compressed)
	n2 := NickFromPubKey(compressed)
	if n1 != n2 {
		t.Errorf("NickFromPubKey not deterministic: %s != %s", n1, n2)
	}
	if n1[0] != 'J' || n1[1] != '1' {
		t.Errorf("nick %s does not start with J1", n1)
	}
	if !ValidNick(n1, compressed) {
		t.Error("ValidNick rejected its own derivation")
	}
}
