package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"vigilkeep.gg/internal/persistence/indexdb"
	persistlog "vigilkeep.gg/internal/persistence/log"
	"vigilkeep.gg/internal/sim/authority"
	"vigilkeep.gg/internal/sim/catalogs"
	"vigilkeep.gg/internal/sim/tuning"
	"vigilkeep.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the command/delta index")
		disableLog = flag.Bool("disable_delta_log", false, "disable the compressed delta journal")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	store, err := authority.New(tune, cats, logger)
	if err != nil {
		logger.Fatalf("new authority store: %v", err)
	}

	// Observability sidecars. Neither affects canonical state.
	var deltaSinks []authority.DeltaLogger
	var auditSinks []authority.AuditLogger
	if !*disableLog {
		dl := persistlog.NewDeltaLogger(*dataDir)
		defer dl.Close()
		deltaSinks = append(deltaSinks, dl)

		al := persistlog.NewAuditLogger(*dataDir)
		defer al.Close()
		auditSinks = append(auditSinks, al)
	}
	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
		deltaSinks = append(deltaSinks, idx)
		auditSinks = append(auditSinks, idx)
	}
	switch len(deltaSinks) {
	case 1:
		store.SetDeltaLogger(deltaSinks[0])
	case 2:
		store.SetDeltaLogger(teeDeltas(deltaSinks))
	}
	switch len(auditSinks) {
	case 1:
		store.SetAuditLogger(auditSinks[0])
	case 2:
		store.SetAuditLogger(teeAudits(auditSinks))
	}

	// A small starting scene: two relics and one door near spawn.
	seedWorld(store, cats, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := store.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Fatalf("authority loop: %v", err)
		}
	}()

	wsServer := ws.NewServer(store, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsServer.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Printf("listening on %s (tick %dHz)", *addr, tune.TickRateHz)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http: %v", err)
	}
	logger.Printf("shutdown complete")
}

func seedWorld(store *authority.Store, cats *catalogs.Catalogs, logger *log.Logger) {
	ids := make([]string, 0, len(cats.Items.ByID))
	for id := range cats.Items.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seeded := 0
	positions := [][3]float64{{2, 0, 3}, {-4, 0, 1}}
	for _, id := range ids {
		if seeded >= len(positions) {
			break
		}
		if _, err := store.SeedItem(id, positions[seeded]); err != nil {
			logger.Printf("seed item %s: %v", id, err)
			continue
		}
		seeded++
	}
	store.SeedDoor([3]float64{0, 0, 6})
	logger.Printf("seeded %d items, 1 door, clock %s", seeded, store.ClockID())
}

type teeDeltas []authority.DeltaLogger

func (t teeDeltas) WriteDelta(rec authority.DeltaRecord) error {
	var firstErr error
	for _, l := range t {
		if err := l.WriteDelta(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type teeAudits []authority.AuditLogger

func (t teeAudits) WriteAudit(rec authority.AuditRecord) error {
	var firstErr error
	for _, l := range t {
		if err := l.WriteAudit(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
