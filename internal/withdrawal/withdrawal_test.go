package withdrawal

import "testing"

func TestValidAddress(t *testing.T) {
	valid := []string{
		"EQAbc123",
		"UQdef456",
		"kQghi789",
		"0:abcdef0123456789",
	}
	for _, addr := range valid {
		if !validAddress(addr) {
			t.Errorf("expected %q to be a valid address", addr)
		}
	}

	invalid := []string{"", "xyz123", "BQsomething", "https://evil.example"}
	for _, addr := range invalid {
		if validAddress(addr) {
			t.Errorf("expected %q to be rejected", addr)
		}
	}
}
