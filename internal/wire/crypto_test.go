package wire

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, err := GenerateNaClKeyPair()
	if err != nil {
		t.Fatalf("GenerateNaClKeyPair: %v", err)
	}
	bob, err := GenerateNaClKeyPair()
	if err != nil {
		t.Fatalf("GenerateNaClKeyPair: %v", err)
	}

	plaintext := []byte("utxo1:0 utxo2:1 bc1qcjaddr bc1qchangeaddr")

	encoded, err := Encrypt(plaintext, &bob.Public, &alice.Private)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decoded, err := Decrypt(encoded, &alice.Public, &bob.Private)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(decoded) != string(plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decoded, plaintext)
	}
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	alice, _ := GenerateNaClKeyPair()
	bob, _ := GenerateNaClKeyPair()
	mallory, _ := GenerateNaClKeyPair()

	encoded, err := Encrypt([]byte("secret"), &bob.Public, &alice.Private)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(encoded, &mallory.Public, &bob.Private); err == nil {
		t.Error("expected decrypt to fail against the wrong sender key")
	}
}
