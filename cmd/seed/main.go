// Command seed populates a freshly migrated database with a handful of
// demo markets, grounded in the original project's demo fixtures: the same
// five titles, categories, prices and deadlines, translated from the
// original one-shot script into a CreateMarket + price/volume backfill
// against this service's store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/predikt/exchange/internal/config"
	"github.com/predikt/exchange/internal/store"
)

type seedMarket struct {
	title, descr, category string
	deadlineIn             time.Duration
	yesPriceBp             int
	volumeKopecks          int64
}

var demoMarkets = []seedMarket{
	{
		title:         "Bitcoin above $100,000 by end of February 2026?",
		descr:         "Does BTC reach $100,000 or higher before Feb 28 2026 23:59 UTC?",
		category:      "crypto",
		deadlineIn:    27 * 24 * time.Hour,
		yesPriceBp:    6500,
		volumeKopecks: 12_500_000,
	},
	{
		title:         "Spartak wins their next league match?",
		descr:         "Does Spartak Moscow win their next Russian Premier League fixture?",
		category:      "sports",
		deadlineIn:    14 * 24 * time.Hour,
		yesPriceBp:    5800,
		volumeKopecks: 4_500_000,
	},
	{
		title:         "Moscow temperature above +5C on Feb 15?",
		descr:         "Does the daily high in Moscow exceed +5C on February 15 2026?",
		category:      "weather",
		deadlineIn:    14 * 24 * time.Hour,
		yesPriceBp:    4200,
		volumeKopecks: 1_800_000,
	},
	{
		title:         "Ethereum reaches $5,000 in March 2026?",
		descr:         "Does ETH trade at $5,000 or higher at any point in March 2026?",
		category:      "crypto",
		deadlineIn:    58 * 24 * time.Hour,
		yesPriceBp:    5500,
		volumeKopecks: 8_200_000,
	},
	{
		title:         "CSKA finishes top-3 in the league this season?",
		descr:         "Does CSKA finish the 2025/26 Russian Premier League season in the top 3?",
		category:      "sports",
		deadlineIn:    120 * 24 * time.Hour,
		yesPriceBp:    7200,
		volumeKopecks: 3_100_000,
	},
}

func main() {
	force := false
	for _, a := range os.Args[1:] {
		if a == "--force" {
			force = true
		}
	}

	cfg, err := config.Load(".env")
	if err != nil {
		fail(err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		fail(err)
	}
	if err := st.Migrate("migrations"); err != nil {
		fail(err)
	}

	ctx := context.Background()
	existing, err := st.ListMarkets(ctx)
	if err != nil {
		fail(err)
	}
	if len(existing) > 0 && !force {
		fmt.Printf("database already has %d markets, pass --force to add the demo set anyway\n", len(existing))
		return
	}

	now := time.Now()
	for _, sm := range demoMarkets {
		mkt, err := st.CreateMarket(ctx, sm.title, sm.descr, sm.category, now.Add(sm.deadlineIn))
		if err != nil {
			fail(err)
		}
		noBp := 10000 - sm.yesPriceBp
		if _, err := st.DB.ExecContext(ctx,
			`UPDATE markets SET yes_price_bp=$1, no_price_bp=$2, volume_kopecks=$3 WHERE id=$4`,
			sm.yesPriceBp, noBp, sm.volumeKopecks, mkt.ID); err != nil {
			fail(err)
		}
		fmt.Printf("created market %s: %s (YES %.1f%%)\n", mkt.ID, sm.title, float64(sm.yesPriceBp)/100)
	}

	fmt.Printf("seed complete: %d markets\n", len(demoMarkets))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "seed failed:", err)
	os.Exit(1)
}
