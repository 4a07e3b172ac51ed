package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"futarchy-guard/internal/market"
)

const (
	queryPath   = "/v1/query"
	maxAttempts = 5
)

// Client talks to the read-only chain indexer that serves pool snapshots.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type queryRequest struct {
	Type     string `json:"type"`
	Proposal string `json:"proposal,omitempty"`
}

// ProposalMarkets fetches a fresh snapshot of one proposal's spot and
// conditional pools. The indexer assembles the snapshot inside a single state
// read, so the reserves it reports are mutually consistent.
func (c *Client) ProposalMarkets(ctx context.Context, proposal common.Hash) (market.Snapshot, error) {
	body, err := c.query(ctx, queryRequest{Type: "proposalMarkets", Proposal: proposal.Hex()})
	if err != nil {
		return market.Snapshot{}, err
	}
	snap, err := market.ParseSnapshot(body)
	if err != nil {
		return market.Snapshot{}, err
	}
	snap.ObservedAt = time.Now().UTC()
	return snap, nil
}

// ActiveProposals lists the proposals whose conditional markets are live.
func (c *Client) ActiveProposals(ctx context.Context) ([]common.Hash, error) {
	body, err := c.query(ctx, queryRequest{Type: "activeProposals"})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Proposals []string `json:"proposals"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode proposals: %w", err)
	}
	out := make([]common.Hash, 0, len(payload.Proposals))
	for _, raw := range payload.Proposals {
		b := common.FromHex(raw)
		if len(b) != common.HashLength {
			return nil, fmt.Errorf("invalid proposal id %q", raw)
		}
		out = append(out, common.BytesToHash(b))
	}
	return out, nil
}

func (c *Client) query(ctx context.Context, req queryRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
		body, retryable, err := c.post(ctx, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if c.log != nil {
			c.log.Warn("indexer query failed", zap.String("type", req.Type), zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("retry failed: %w", lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+queryPath, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, resp.StatusCode >= 500, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}
