package deposit

import (
	"encoding/binary"
	"testing"
)

func buildMemo(opcode uint32, chatID uint64) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], opcode)
	binary.BigEndian.PutUint64(b[4:12], chatID)
	return b
}

func TestParseDepositMemoValid(t *testing.T) {
	body := buildMemo(depositOpcode, 123456789)
	chatID, ok := ParseDepositMemo(body)
	if !ok {
		t.Fatal("expected ok=true for a valid memo")
	}
	if chatID != 123456789 {
		t.Fatalf("expected chatID 123456789, got %d", chatID)
	}
}

func TestParseDepositMemoWrongOpcode(t *testing.T) {
	body := buildMemo(0xDEADBEEF, 42)
	if _, ok := ParseDepositMemo(body); ok {
		t.Fatal("expected ok=false for a non-deposit opcode")
	}
}

func TestParseDepositMemoTooShort(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		buildMemo(depositOpcode, 1)[:11],
		buildMemo(depositOpcode, 1)[:4],
	}
	for i, body := range cases {
		if _, ok := ParseDepositMemo(body); ok {
			t.Fatalf("case %d: expected ok=false for a short body (len=%d)", i, len(body))
		}
	}
}

func TestParseDepositMemoExactBoundary(t *testing.T) {
	body := buildMemo(depositOpcode, 0)
	if _, ok := ParseDepositMemo(body); !ok {
		t.Fatal("expected ok=true at the exact 12-byte boundary")
	}
	// Trailing bytes beyond the 12 required are ignored.
	longer := append(body, 0xFF, 0xFF)
	chatID, ok := ParseDepositMemo(longer)
	if !ok || chatID != 0 {
		t.Fatalf("expected ok=true chatID=0 with trailing bytes, got ok=%v chatID=%d", ok, chatID)
	}
}

func TestParseTransactionBounced(t *testing.T) {
	raw := RawTx{
		Hash:  "abc",
		Lt:    "100",
		Utime: 1700000000,
		InMsg: rawMsg{
			Source:  "addr1",
			Value:   "5000000000",
			Bounced: true,
		},
	}
	tx, err := ParseTransaction(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Success {
		t.Fatal("expected Success=false for a bounced message")
	}
	if tx.ChainAmount != 5_000_000_000 {
		t.Fatalf("expected amount 5000000000, got %d", tx.ChainAmount)
	}
}

func TestParseTransactionBadValue(t *testing.T) {
	raw := RawTx{Hash: "x", InMsg: rawMsg{Value: "not-a-number"}}
	if _, err := ParseTransaction(raw); err == nil {
		t.Fatal("expected an error for an unparseable value field")
	}
}
