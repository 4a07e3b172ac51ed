package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const snapshotBody = `{
	"dao": "0x1111111111111111111111111111111111111111",
	"proposal": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	"seq": 9,
	"spot": {"pool": "0x3333333333333333333333333333333333333333", "feeBps": 30, "price": "0x1d1a94a2000"},
	"conditionals": [{"outcome": 0, "assetReserve": "1000", "stableReserve": "2000", "feeBps": 30}]
}`

func TestProposalMarkets(t *testing.T) {
	proposal := common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["type"] != "proposalMarkets" || !strings.EqualFold(req["proposal"], proposal.Hex()) {
			t.Errorf("unexpected request %v", req)
		}
		_, _ = w.Write([]byte(snapshotBody))
	}))
	defer srv.Close()

	client := New(srv.URL, 2*time.Second, nil)
	snap, err := client.ProposalMarkets(context.Background(), proposal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Seq != 9 || len(snap.Conditionals) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ObservedAt.IsZero() {
		t.Fatalf("snapshot must be stamped with observation time")
	}
}

func TestQueryRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"proposals": []}`))
	}))
	defer srv.Close()

	client := New(srv.URL, 2*time.Second, nil)
	if _, err := client.ActiveProposals(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestQueryFailsFastOnClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown query type", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(srv.URL, 2*time.Second, nil)
	if _, err := client.ActiveProposals(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt for a 4xx, got %d", calls.Load())
	}
}

func TestActiveProposalsRejectsBadIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"proposals": ["0x1234"]}`))
	}))
	defer srv.Close()

	client := New(srv.URL, 2*time.Second, nil)
	if _, err := client.ActiveProposals(context.Background()); err == nil {
		t.Fatalf("expected error for short proposal id")
	}
}
