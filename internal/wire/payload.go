package wire

import (
	"fmt"
	"strings"
)

// EncryptedCommands is the set of application commands that must be
// NaCl-boxed before they travel inside an Envelope's Line field.
var EncryptedCommands = map[string]bool{
	"!auth":   true,
	"!ioauth": true,
	"!tx":     true,
	"!sig":    true,
}

// IsEncrypted reports whether command must be encrypted on the wire.
func IsEncrypted(command string) bool {
	return EncryptedCommands[command]
}

// Payload is a parsed application message of the form
// "{from_nick}!{to_nick}!{command} [arg1] [arg2] ...".
type Payload struct {
	From    string
	To      string
	Command string
	Args    []string
}

// ParsePayload splits a line's in-`line` application payload. Fields are
// split strictly on single spaces, never on runs of whitespace — a doubled
// space is a distinct, empty argument, not a separator to collapse.
func ParsePayload(line string) (Payload, error) {
	bangParts := strings.SplitN(line, "!", 3)
	if len(bangParts) != 3 {
		return Payload{}, fmt.Errorf("wire: malformed payload %q: expected from!to!command", line)
	}

	from := bangParts[0]
	to := bangParts[1]
	rest := bangParts[2]

	fields := strings.Split(rest, " ")
	if len(fields) == 0 || fields[0] == "" {
		return Payload{}, fmt.Errorf("wire: malformed payload %q: missing command", line)
	}

	return Payload{
		From:    from,
		To:      to,
		Command: fields[0],
		Args:    fields[1:],
	}, nil
}

// BuildPayload assembles a from!to!command arg1 arg2 ... line.
func BuildPayload(from, to, command string, args ...string) string {
	var b strings.Builder
	b.WriteString(from)
	b.WriteByte('!')
	b.WriteString(to)
	b.WriteByte('!')
	b.WriteString(command)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}

// ParseEncryptedPayload parses an encrypted payload, which MAY contain only
// a single command (no further "!"-splitting of its argument list beyond
// from!to!command).
func ParseEncryptedPayload(line string) (Payload, error) {
	p, err := ParsePayload(line)
	if err != nil {
		return Payload{}, err
	}
	if !IsEncrypted(p.Command) {
		return Payload{}, fmt.Errorf("wire: command %q is not an encrypted command", p.Command)
	}
	return p, nil
}
