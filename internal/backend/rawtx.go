package backend

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// decodeRawTxHex parses a hex-encoded raw transaction into a wire.MsgTx,
// the representation btcd's rpcclient expects for sendrawtransaction.
func decodeRawTxHex(rawTxHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawTxHex)
	if err != nil {
		return nil, fmt.Errorf("hex decode: %w", err)
	}

	msgTx := wire.NewMsgTx(wire.TxVersion)
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize: %w", err)
	}
	return msgTx, nil
}
