package replica

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Update is the wire form of one replicated value change. Owner and Epoch
// describe current ownership; Written is the epoch the value was written
// under and orders updates together with Version.
type Update struct {
	ID      string             `msgpack:"id"`
	Version uint64             `msgpack:"v"`
	Owner   string             `msgpack:"o,omitempty"`
	Epoch   uint64             `msgpack:"e,omitempty"`
	Written uint64             `msgpack:"w,omitempty"`
	Value   msgpack.RawMessage `msgpack:"d"`
}

// EncodeUpdates packs a batch of updates for one binary frame.
func EncodeUpdates(updates []Update) ([]byte, error) {
	b, err := msgpack.Marshal(updates)
	if err != nil {
		return nil, fmt.Errorf("replica: encode updates: %w", err)
	}
	return b, nil
}

// DecodeUpdates unpacks a frame produced by EncodeUpdates.
func DecodeUpdates(data []byte) ([]Update, error) {
	var updates []Update
	if err := msgpack.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("replica: decode updates: %w", err)
	}
	return updates, nil
}
