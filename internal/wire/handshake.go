package wire

import (
	"encoding/json"
	"fmt"
)

// ProtoVersion is the wire protocol version this core speaks.
const ProtoVersion = 5

// HandshakePayload is the client->directory or peer<->peer HANDSHAKE body.
type HandshakePayload struct {
	Directory      bool            `json:"directory"`
	ProtoVer       int             `json:"proto-ver"`
	Features       map[string]bool `json:"features"`
	LocationString string          `json:"location-string"`
}

// DNHandshakePayload is the directory's reply to a client HANDSHAKE. Peers
// connected directly (not through a directory) never send this; receiving
// one from a non-directory peer is a protocol violation.
type DNHandshakePayload struct {
	Directory    bool            `json:"directory"`
	ProtoVerMin  int             `json:"proto-ver-min"`
	ProtoVerMax  int             `json:"proto-ver-max"`
	Accepted     bool            `json:"accepted"`
	Features     map[string]bool `json:"features"`
}

// BuildClientHandshake constructs the HANDSHAKE a client sends to a
// directory.
func BuildClientHandshake(features map[string]bool, location string) (Envelope, error) {
	return buildHandshakeEnvelope(HandshakePayload{
		Directory:      false,
		ProtoVer:       ProtoVersion,
		Features:       features,
		LocationString: location,
	})
}

// BuildPeerHandshake constructs the symmetric HANDSHAKE two direct peers
// exchange. Neither side follows it with a DN_HANDSHAKE.
func BuildPeerHandshake(features map[string]bool, location string) (Envelope, error) {
	return BuildClientHandshake(features, location)
}

func buildHandshakeEnvelope(p HandshakePayload) (Envelope, error) {
	line, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: marshal handshake: %w", err)
	}
	return Envelope{Type: TypeHandshake, Line: string(line)}, nil
}

// BuildDNHandshake constructs a directory's reply to a client HANDSHAKE.
func BuildDNHandshake(accepted bool, features map[string]bool) (Envelope, error) {
	p := DNHandshakePayload{
		Directory:   true,
		ProtoVerMin: ProtoVersion,
		ProtoVerMax: ProtoVersion,
		Accepted:    accepted,
		Features:    features,
	}
	line, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: marshal dn-handshake: %w", err)
	}
	return Envelope{Type: TypeDNHandshake, Line: string(line)}, nil
}

// ParseHandshake decodes a HANDSHAKE envelope's Line.
func ParseHandshake(e Envelope) (HandshakePayload, error) {
	if e.Type != TypeHandshake {
		return HandshakePayload{}, fmt.Errorf("wire: expected HANDSHAKE envelope, got type %d", e.Type)
	}
	var p HandshakePayload
	if err := json.Unmarshal([]byte(e.Line), &p); err != nil {
		return HandshakePayload{}, fmt.Errorf("wire: decode handshake: %w", err)
	}
	return p, nil
}

// ParseDNHandshake decodes a DN_HANDSHAKE envelope's Line. A peer receiving
// this from a connection it did not establish as a directory MUST treat it
// as a protocol violation (spec.md §4.2).
func ParseDNHandshake(e Envelope) (DNHandshakePayload, error) {
	if e.Type != TypeDNHandshake {
		return DNHandshakePayload{}, fmt.Errorf("wire: expected DN_HANDSHAKE envelope, got type %d", e.Type)
	}
	var p DNHandshakePayload
	if err := json.Unmarshal([]byte(e.Line), &p); err != nil {
		return DNHandshakePayload{}, fmt.Errorf("wire: decode dn-handshake: %w", err)
	}
	if !p.Directory {
		return DNHandshakePayload{}, fmt.Errorf("wire: DN_HANDSHAKE from non-directory peer is a protocol violation")
	}
	return p, nil
}
