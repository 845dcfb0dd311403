// Command republish re-sends derivation messages for stored name entries.
// It is the manual recovery path for entries whose publish failed.
//
//	republish -ids 1f0c...,9a2e...
//	republish -since 2024-04-01T00:00:00Z
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/richardliu001/name-pipeline/internal/channel"
	"github.com/richardliu001/name-pipeline/internal/config"
	"github.com/richardliu001/name-pipeline/internal/logger"
	"github.com/richardliu001/name-pipeline/internal/metrics"
	"github.com/richardliu001/name-pipeline/internal/repo"
	"github.com/richardliu001/name-pipeline/internal/service"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "config file")
	idList := flag.String("ids", "", "comma separated name entry ids")
	sinceStr := flag.String("since", "", "republish entries created at or after this RFC3339 time")
	dryRun := flag.Bool("dry-run", false, "list matching entries without publishing")
	flag.Parse()

	if *idList == "" && *sinceStr == "" {
		fmt.Fprintln(os.Stderr, "one of -ids or -since is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	var since time.Time
	if *sinceStr != "" {
		since, err = time.Parse(time.RFC3339, *sinceStr)
		if err != nil {
			log.Fatalf("invalid -since: %v", err)
		}
	}
	var ids []string
	for _, id := range strings.Split(*idList, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repository, err := repo.Open(cfg.Postgres.DSN, log)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer repository.Close()

	entries, err := repository.FindNameEntries(ctx, ids, since)
	if err != nil {
		log.Fatalf("find entries: %v", err)
	}
	log.Infof("%d entries selected", len(entries))
	if *dryRun || len(entries) == 0 {
		for _, e := range entries {
			log.Infof("entry %s %s%s created %s", e.ID, e.LastName, e.FirstName, e.CreatedAt.Format(time.RFC3339))
		}
		return
	}

	ch, err := channel.Open(ctx, cfg.Channel, log)
	if err != nil {
		log.Fatalf("open channel: %v", err)
	}
	defer ch.Close()
	if err := channel.Setup(ctx, ch, cfg.Channel); err != nil {
		log.Fatalf("channel setup: %v", err)
	}

	ingest := service.NewIngestService(repository, ch, metrics.New("name_pipeline_republish"), log)
	n, err := ingest.Republish(ctx, entries)
	if err != nil {
		log.Errorf("republished %d of %d: %v", n, len(entries), err)
		os.Exit(1)
	}
	log.Infof("republished %d entries", n)
}
