package market

import (
	"strings"
	"testing"
)

const sampleSnapshotJSON = `{
	"dao": "0x1111111111111111111111111111111111111111",
	"proposal": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	"seq": 42,
	"spot": {
		"pool": "0x3333333333333333333333333333333333333333",
		"feeBps": 30,
		"price": "0x1d1a94a2000"
	},
	"conditionals": [
		{"outcome": 0, "assetReserve": "1000", "stableReserve": "2000", "feeBps": 30},
		{"outcome": 1, "assetReserve": "1000", "stableReserve": "1800", "feeBps": 25}
	]
}`

func TestParseSnapshot(t *testing.T) {
	snap, err := ParseSnapshot([]byte(sampleSnapshotJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.DAO != testDAO {
		t.Fatalf("unexpected dao %s", snap.DAO.Hex())
	}
	if snap.Proposal != testProposal {
		t.Fatalf("unexpected proposal %s", snap.Proposal.Hex())
	}
	if snap.Seq != 42 {
		t.Fatalf("unexpected seq %d", snap.Seq)
	}
	if snap.Spot.Price.Uint64() != 2_000_000_000_000 {
		t.Fatalf("unexpected price %s", snap.Spot.Price.Dec())
	}
	if len(snap.Conditionals) != 2 {
		t.Fatalf("expected 2 conditionals, got %d", len(snap.Conditionals))
	}
	c := snap.Conditionals[1]
	if c.Outcome != 1 || c.AssetReserve != 1000 || c.StableReserve != 1800 || c.FeeRateBps != 25 {
		t.Fatalf("unexpected conditional: %+v", c)
	}
	// Pools inherit the snapshot's family so VerifyFamily passes on a clean payload.
	if err := snap.VerifyFamily(); err != nil {
		t.Fatalf("parsed snapshot must form one family: %v", err)
	}
}

func TestParseSnapshotRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"bad dao":      strings.Replace(sampleSnapshotJSON, "0x1111111111111111111111111111111111111111", "not-an-address", 1),
		"bad proposal": strings.Replace(sampleSnapshotJSON, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "0x1234", 1),
		"bad price":    strings.Replace(sampleSnapshotJSON, "0x1d1a94a2000", "two trillion", 1),
		"bad reserve":  strings.Replace(sampleSnapshotJSON, `"2000"`, `"-1"`, 1),
		"not json":     "{",
	}
	for name, payload := range cases {
		if _, err := ParseSnapshot([]byte(payload)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}
