package wire

import "testing"

func TestParsePayloadRoundTrip(t *testing.T) {
	built := BuildPayload("alice", "bob", "!fill", "1", "500000", "pub", "commit")
	got, err := ParsePayload(built)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got.From != "alice" || got.To != "bob" || got.Command != "!fill" {
		t.Errorf("got %+v", got)
	}
	if len(got.Args) != 4 || got.Args[0] != "1" || got.Args[3] != "commit" {
		t.Errorf("args mismatch: %+v", got.Args)
	}
}

func TestParsePayloadRejectsMalformed(t *testing.T) {
	if _, err := ParsePayload("no-bangs-here"); err == nil {
		t.Error("expected error for payload without from!to! separators")
	}
}

func TestParsePayloadPreservesEmptyFields(t *testing.T) {
	// A doubled space must NOT be collapsed: it produces an empty argument.
	got, err := ParsePayload("a!b!!cmd x  y")
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if len(got.Args) != 3 || got.Args[0] != "x" || got.Args[1] != "" || got.Args[2] != "y" {
		t.Errorf("expected empty arg preserved between runs of whitespace, got %+v", got.Args)
	}
}

func TestIsEncrypted(t *testing.T) {
	for _, c := range []string{"!auth", "!ioauth", "!tx", "!sig"} {
		if !IsEncrypted(c) {
			t.Errorf("%s should be encrypted", c)
		}
	}
	for _, c := range []string{"!fill", "!pubkey", "!orderbook"} {
		if IsEncrypted(c) {
			t.Errorf("%s should not be encrypted", c)
		}
	}
}
