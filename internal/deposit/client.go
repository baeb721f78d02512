// Package deposit implements the on-chain deposit indexer: a poller that
// watches the exchange's deposit address for incoming transfers, decodes
// the sender's memo to find which user to credit, and writes the ledger
// entry exactly once per transaction hash.
//
// The wire format mirrors a TON-style transaction explorer API (the chain
// this was first built against): nanoton-denominated values, logical time
// ordering, and a raw message body carrying the deposit memo. Nothing
// chain-specific leaks past this package — callers only see Transaction
// and RawTx.
package deposit

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// depositOpcode is the first 4 bytes of a deposit memo body; any other
// value means the message isn't a deposit transfer (could be a refund, a
// comment, anything else the chain carries).
const depositOpcode uint32 = 0x00000001

// RawTx is a single entry from the explorer's getTransactions response.
type RawTx struct {
	Hash            string `json:"hash"`
	Lt              string `json:"lt"`
	Utime           int64  `json:"utime"`
	InMsg           rawMsg `json:"in_msg"`
	TransactionType string `json:"transaction_type"`
}

type rawMsg struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Value       string `json:"value"`
	MsgData     struct {
		Body string `json:"body"` // base64
	} `json:"msg_data"`
	Bounced bool `json:"bounced"`
}

// Transaction is a parsed, chain-agnostic view of one incoming transfer.
type Transaction struct {
	Hash        string
	LogicalTime int64
	CreatedAt   time.Time
	SenderAddr  string
	ChainAmount int64 // nanoton-equivalent smallest unit
	Success     bool
	Body        []byte
}

// ChainClient polls the explorer API for transactions on one address.
type ChainClient struct {
	http *resty.Client
}

func NewChainClient(baseURL, apiKey string) *ChainClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			// 429 is handled by the indexer's poll loop, which doubles its
			// wait (capped at five minutes) after each rate-limited poll and
			// has no retry budget: it keeps polling. resty's blanket retry
			// only covers transient 5xx/network failures.
			return r.StatusCode() >= 500
		})
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return &ChainClient{http: c}
}

// GetTransactions fetches up to limit recent transactions for address,
// newest first.
func (c *ChainClient) GetTransactions(ctx context.Context, address string, limit int) ([]RawTx, error) {
	var result struct {
		Transactions []RawTx `json:"transactions"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"address": address,
			"limit":   fmt.Sprintf("%d", limit),
		}).
		SetResult(&result).
		Get("/getTransactions")
	if err != nil {
		return nil, fmt.Errorf("get transactions: %w", err)
	}
	if resp.StatusCode() == 429 {
		return nil, errRateLimited
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("get transactions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Transactions, nil
}

var errRateLimited = fmt.Errorf("chain api rate limited")

// ParseTransaction converts a RawTx into a Transaction, decoding the body
// and flagging bounced (failed) transfers.
func ParseTransaction(raw RawTx) (*Transaction, error) {
	var amount int64
	if _, err := fmt.Sscanf(raw.InMsg.Value, "%d", &amount); err != nil {
		return nil, fmt.Errorf("parse value %q: %w", raw.InMsg.Value, err)
	}
	var lt int64
	fmt.Sscanf(raw.Lt, "%d", &lt)

	var body []byte
	if raw.InMsg.MsgData.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw.InMsg.MsgData.Body)
		if err == nil {
			body = decoded
		}
	}

	return &Transaction{
		Hash:        raw.Hash,
		LogicalTime: lt,
		CreatedAt:   time.Unix(raw.Utime, 0).UTC(),
		SenderAddr:  raw.InMsg.Source,
		ChainAmount: amount,
		Success:     !raw.InMsg.Bounced,
		Body:        body,
	}, nil
}

// ParseDepositMemo extracts the user id from a deposit memo body: 4
// big-endian opcode bytes followed by 8 big-endian id bytes. ok is false
// if the body is too short or the opcode doesn't match a deposit.
func ParseDepositMemo(body []byte) (userChatID uint64, ok bool) {
	if len(body) < 12 {
		return 0, false
	}
	opcode := binary.BigEndian.Uint32(body[0:4])
	if opcode != depositOpcode {
		return 0, false
	}
	return binary.BigEndian.Uint64(body[4:12]), true
}
