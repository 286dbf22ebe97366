package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

// redub-stats inspects the engine's throughput history.
//
//	redub-stats          table counts and per-operation RTF averages
//	redub-stats prune    drop samples older than 30 days
func main() {
	pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "prune" {
		tag, _ := pool.Exec(ctx, "DELETE FROM op_samples WHERE recorded_at < now() - interval '30 days'")
		fmt.Printf("Pruned %d old samples\n", tag.RowsAffected())
		return
	}

	tables := []string{"op_samples", "view_settings"}
	fmt.Println("Table                    Count")
	fmt.Println("─────────────────────────────────")
	for _, t := range tables {
		var count int64
		pool.QueryRow(ctx, "SELECT count(*) FROM "+t).Scan(&count)
		fmt.Printf("%-25s %d\n", t, count)
	}

	fmt.Println()
	fmt.Println("── Real-Time Factor by Operation ──")
	for _, window := range []string{"24 hours", "7 days", "30 days"} {
		fmt.Printf("last %s:\n", window)
		rows, err := pool.Query(ctx, `
			SELECT operation,
			       count(*),
			       sum(audio_seconds) / NULLIF(sum(processing_seconds), 0)
			FROM op_samples
			WHERE recorded_at > now() - $1::interval
			GROUP BY operation
			ORDER BY operation
		`, window)
		if err != nil {
			fmt.Printf("  query failed: %v\n", err)
			continue
		}
		seen := false
		for rows.Next() {
			var op string
			var n int64
			var rtf *float64
			rows.Scan(&op, &n, &rtf)
			if rtf == nil {
				continue
			}
			fmt.Printf("  %-14s %6d samples   %.2fx realtime\n", op, n, *rtf)
			seen = true
		}
		rows.Close()
		if !seen {
			fmt.Println("  (no samples)")
		}
	}
}
