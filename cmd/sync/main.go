package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/CivicDataHub/CDH-Backend/internal/civic"
	"github.com/CivicDataHub/CDH-Backend/internal/db"
	"github.com/joho/godotenv"
)

// One-shot sync runner for cron and manual use. Exits non-zero when any
// source failed so schedulers can alert on it.
func main() {
	godotenv.Load(".env.local")
	db.Connect()

	svc := civic.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcomes := svc.Orchestrator.RunSync(ctx)
	if len(outcomes) == 0 {
		fmt.Println("No sources configured; nothing to do.")
		return
	}

	failed := 0
	for _, out := range outcomes {
		switch out.Status {
		case civic.SyncSuccess:
			fmt.Printf("✓ %s: +%d ~%d =%d (%dms)\n",
				out.Source, out.Report.Inserted, out.Report.Updated, out.Report.Unchanged, out.TookMs)
		case civic.SyncPartial:
			fmt.Printf("~ %s: +%d ~%d =%d conflicts=%d warnings=%d (%dms)\n",
				out.Source, out.Report.Inserted, out.Report.Updated, out.Report.Unchanged,
				out.Report.Conflicts, len(out.Report.Warnings), out.TookMs)
		default:
			failed++
			fmt.Printf("✗ %s: %s (%dms)\n", out.Source, out.Error, out.TookMs)
		}
	}

	if failed > 0 {
		log.Fatalf("%d source(s) failed", failed)
	}
}
