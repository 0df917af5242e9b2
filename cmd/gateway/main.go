package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	api "github.com/radcoach/radcoach/internal/api/http"
	"github.com/radcoach/radcoach/internal/auth"
	"github.com/radcoach/radcoach/internal/config"
	"github.com/radcoach/radcoach/internal/corpus"
	"github.com/radcoach/radcoach/internal/db"
	"github.com/radcoach/radcoach/internal/engine"
	"github.com/radcoach/radcoach/internal/ledger"
	"github.com/radcoach/radcoach/internal/oracle"
	"github.com/radcoach/radcoach/internal/report"
	"github.com/radcoach/radcoach/internal/storage"
)

func main() {
	cfg := config.FromEnv()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	store := ledger.NewSQLStore(dbh, cfg.DBDriver)

	// --- Corpus ---
	tax := corpus.DefaultTaxonomy()
	if cfg.TaxonomyPath != "" {
		if tax, err = corpus.LoadTaxonomy(cfg.TaxonomyPath); err != nil {
			log.Fatal("taxonomy load failed", zap.Error(err))
		}
	}
	cases, err := corpus.Load(tax, cfg.LocalizeDataPath, cfg.ReportDataPath)
	if err != nil {
		log.Fatal("corpus load failed", zap.Error(err))
	}
	log.Info("corpus loaded",
		zap.Int("localize_cases", cases.LocalizeCount()),
		zap.Int("report_cases", cases.ReportCount()))

	// --- Services ---
	led := ledger.New(store, cfg.LocalizeCap, cfg.ReportCap)
	client := oracle.NewEngine(cfg.OracleAPIKey, cfg.OracleModel, cfg.OracleTimeout)
	grader := report.NewGrader(cases, client, log)
	svc := engine.New(cases, grader, led, log)
	authSvc := auth.NewService(cfg.AuthSecret, cfg.TokenTTL)

	images, err := storage.NewFSStore(cfg.ImageBasePath)
	if err != nil {
		log.Fatal("image store", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(cfg, svc, authSvc, store, images),
	}

	go func() {
		log.Info("listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("db", cfg.DBDriver),
			zap.String("run_id", svc.RunID()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("serve failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	_ = dbh.Close()
}
