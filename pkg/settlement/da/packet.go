package da

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

// Packet is what a sovereign rollup publishes per block. Packets form a chain through Prev so a
// reader can walk the rollup history backwards from the newest blob.
type Packet struct {
	Prev        *types.DAPointer `json:"prev"`
	BlockNumber uint64           `json:"blockNumber"`
	Proof       json.RawMessage  `json:"proof"`
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Encode serializes and compresses p.
func (p *Packet) Encode() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode packet for block %d: %w", p.BlockNumber, err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

// DecodePacket reverses Encode.
func DecodePacket(b []byte) (*Packet, error) {
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress packet: %w", err)
	}
	var p Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode packet: %w", err)
	}
	return &p, nil
}
