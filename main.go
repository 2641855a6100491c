package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-index/config"
	"github.com/aquasecurity/vuln-index/fetcher"
	"github.com/aquasecurity/vuln-index/freshness"
	"github.com/aquasecurity/vuln-index/index"
	"github.com/aquasecurity/vuln-index/ingest"
	"github.com/aquasecurity/vuln-index/metrics"
	"github.com/aquasecurity/vuln-index/utils"
)

var (
	configPath = flag.String("config", "", "path to a YAML config file")
	force      = flag.Bool("force", false, "ingest even if the feeds are still fresh")
	lookup     = flag.String("lookup", "", "print the advisories of a package after the update")
	version    = flag.String("version", "", "restrict -lookup to one version")
	metricsOut = flag.String("metrics", "", "write the cycle metrics to this file in the Prometheus text format")
)

func main() {
	if err := run(); err != nil {
		utils.Logger().Fatal(err)
	}
}

func run() error {
	flag.Parse()
	defer utils.Logger().Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return xerrors.Errorf("config error: %w", err)
	}

	store, closeStore, err := newStore(cfg.Store)
	if err != nil {
		return xerrors.Errorf("store error: %w", err)
	}
	defer closeStore()

	fs := afero.NewOsFs()
	idx := index.New(index.WithReplace(cfg.Replace))
	if cfg.Snapshot != "" {
		if _, err = idx.Load(fs, cfg.Snapshot); err != nil {
			return xerrors.Errorf("snapshot error: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m := metrics.New()
	u := ingest.NewUpdater(cfg.Sources, freshness.NewCache(store), idx,
		ingest.WithMetrics(m),
		ingest.WithWorkers(cfg.Workers),
		ingest.WithMaxAge(cfg.MaxAge),
		ingest.WithForce(*force),
		ingest.WithChecksum(cfg.VerifyChecksum),
		ingest.WithSnapshot(fs, cfg.Snapshot),
		ingest.WithFetcher(fetcher.New(
			fetcher.WithTimeout(cfg.Timeout),
			fetcher.WithRetry(cfg.Retry),
		)),
	)
	result, err := u.Run(ctx)
	if *metricsOut != "" {
		if werr := m.WriteTextfile(*metricsOut); werr != nil {
			utils.Logger().Warnf("Failed to write metrics: %s", werr)
		}
	}
	if err != nil {
		return xerrors.Errorf("update error: %w", err)
	}
	if !result.Skipped {
		utils.Logger().Infof("%d documents ingested, %d failed, %d facts, %d packages",
			result.Documents, result.Failed, result.Facts, result.Packages)
	}

	if *lookup != "" {
		return printLookup(os.Stdout, idx, *lookup, *version)
	}
	return nil
}

func newStore(cfg config.Store) (freshness.Store, func(), error) {
	switch cfg.Type {
	case config.StoreSQLite:
		s, err := freshness.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return freshness.NewFileStore(afero.NewOsFs(), cfg.Path), func() {}, nil
	}
}

func printLookup(w io.Writer, idx *index.Index, pkg, version string) error {
	var v interface{}
	if version != "" {
		v = idx.LookupVersion(pkg, version)
	} else if r, ok := idx.Lookup(pkg); ok {
		v = r
	} else {
		v = struct{}{}
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	if err := e.Encode(v); err != nil {
		return xerrors.Errorf("failed to encode %s: %w", pkg, err)
	}
	return nil
}
