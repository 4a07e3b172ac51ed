package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"futarchy-guard/internal/numeric"
)

type spotPayload struct {
	Pool   string `json:"pool"`
	FeeBps uint16 `json:"feeBps"`
	Price  string `json:"price"`
}

type conditionalPayload struct {
	Outcome       uint8  `json:"outcome"`
	AssetReserve  string `json:"assetReserve"`
	StableReserve string `json:"stableReserve"`
	FeeBps        uint16 `json:"feeBps"`
}

type snapshotPayload struct {
	DAO          string               `json:"dao"`
	Proposal     string               `json:"proposal"`
	Seq          uint64               `json:"seq"`
	Spot         spotPayload          `json:"spot"`
	Conditionals []conditionalPayload `json:"conditionals"`
}

// ParseSnapshot decodes an indexer proposalMarkets payload. Addresses and
// the spot price arrive hex-encoded, u64 reserves as decimal strings since
// JSON numbers cannot carry them exactly.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var payload snapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if !common.IsHexAddress(payload.DAO) {
		return Snapshot{}, fmt.Errorf("invalid dao address %q", payload.DAO)
	}
	if !common.IsHexAddress(payload.Spot.Pool) {
		return Snapshot{}, fmt.Errorf("invalid spot pool address %q", payload.Spot.Pool)
	}
	proposal, err := parseHash(payload.Proposal)
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid proposal id: %w", err)
	}
	price, err := parsePrice(payload.Spot.Price)
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid spot price: %w", err)
	}
	dao := common.HexToAddress(payload.DAO)
	snap := Snapshot{
		DAO:      dao,
		Proposal: proposal,
		Seq:      payload.Seq,
		Spot: SpotPool{
			DAO:        dao,
			Pool:       common.HexToAddress(payload.Spot.Pool),
			FeeRateBps: payload.Spot.FeeBps,
			Price:      price,
		},
	}
	for i, c := range payload.Conditionals {
		asset, err := parseReserve(c.AssetReserve)
		if err != nil {
			return Snapshot{}, fmt.Errorf("conditional %d asset reserve: %w", i, err)
		}
		stable, err := parseReserve(c.StableReserve)
		if err != nil {
			return Snapshot{}, fmt.Errorf("conditional %d stable reserve: %w", i, err)
		}
		snap.Conditionals = append(snap.Conditionals, ConditionalPool{
			DAO:           dao,
			Proposal:      proposal,
			Outcome:       c.Outcome,
			AssetReserve:  asset,
			StableReserve: stable,
			FeeRateBps:    c.FeeBps,
		})
	}
	return snap, nil
}

func parseHash(raw string) (common.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("expected %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

func parsePrice(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, errors.New("missing price")
	}
	big, err := hexutil.DecodeBig(raw)
	if err != nil {
		return nil, err
	}
	price, overflow := uint256.FromBig(big)
	if overflow {
		return nil, errors.New("price exceeds 256 bits")
	}
	return numeric.ClampU128(price), nil
}

func parseReserve(raw string) (uint64, error) {
	if raw == "" {
		return 0, errors.New("missing reserve")
	}
	return strconv.ParseUint(raw, 10, 64)
}
