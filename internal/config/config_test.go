package config

import "testing"

func validConfig() Config {
	return Config{
		DatabaseURL:         "postgres://localhost/predikt",
		JWTSecret:           "a-secret-at-least-16-chars",
		AdminToken:          "op-token",
		FeeRateBp:           200,
		ChainUnitsPerKopeck: 100,
		DepositPoll:         1,
	}
}

func TestValidateOK(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateMissingDatabaseURL(t *testing.T) {
	c := validConfig()
	c.DatabaseURL = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing database_url")
	}
}

func TestValidateShortJWTSecret(t *testing.T) {
	c := validConfig()
	c.JWTSecret = "short"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for short jwt_secret")
	}
}

func TestValidateMissingAdminToken(t *testing.T) {
	c := validConfig()
	c.AdminToken = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing admin_token")
	}
}

func TestValidateFeeRateBounds(t *testing.T) {
	for _, bp := range []int{-1, 10001} {
		c := validConfig()
		c.FeeRateBp = bp
		if err := c.Validate(); err == nil {
			t.Fatalf("expected error for fee_rate_bp=%d", bp)
		}
	}
	c := validConfig()
	c.FeeRateBp = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("fee_rate_bp=0 should be valid, got %v", err)
	}
	c.FeeRateBp = 10000
	if err := c.Validate(); err != nil {
		t.Fatalf("fee_rate_bp=10000 should be valid, got %v", err)
	}
}

func TestValidateChainUnitsPerKopeck(t *testing.T) {
	c := validConfig()
	c.ChainUnitsPerKopeck = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for chain_units_per_kopeck=0")
	}
}

func TestValidateDepositPoll(t *testing.T) {
	c := validConfig()
	c.DepositPoll = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for deposit_poll_interval=0")
	}
}
