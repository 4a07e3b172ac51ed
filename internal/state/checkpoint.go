package state

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const checkpointKeyPrefix = "guard:last_check:"

// Checkpoint records the outcome of the most recent band check for a
// proposal. Prices are decimal strings so 128-bit values survive encoding.
type Checkpoint struct {
	Proposal    string `msgpack:"proposal"`
	Seq         uint64 `msgpack:"seq"`
	InBand      bool   `msgpack:"in_band"`
	Price       string `msgpack:"price"`
	Floor       string `msgpack:"floor"`
	Ceiling     string `msgpack:"ceiling"`
	CheckedAtMS int64  `msgpack:"checked_at_ms"`
}

func checkpointKey(proposal string) string {
	return checkpointKeyPrefix + proposal
}

func SaveCheckpoint(ctx context.Context, store Store, cp Checkpoint) error {
	raw, err := msgpack.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return store.Set(ctx, checkpointKey(cp.Proposal), base64.StdEncoding.EncodeToString(raw))
}

func LoadCheckpoint(ctx context.Context, store Store, proposal string) (Checkpoint, bool, error) {
	val, ok, err := store.Get(ctx, checkpointKey(proposal))
	if err != nil || !ok {
		return Checkpoint{}, false, err
	}
	raw, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := msgpack.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, true, nil
}

func DeleteCheckpoint(ctx context.Context, store Store, proposal string) error {
	return store.Delete(ctx, checkpointKey(proposal))
}
