package commands

import (
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/content"
	"github.com/teranos/proofchain/db"
	"github.com/teranos/proofchain/dedup"
	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/internal/outbound"
	"github.com/teranos/proofchain/ledger"
	"github.com/teranos/proofchain/logger"
	"github.com/teranos/proofchain/metrics"
	"github.com/teranos/proofchain/registrar"
	"github.com/teranos/proofchain/registration"
	"github.com/teranos/proofchain/trust"
)

// app is the wired service graph a command runs against.
type app struct {
	cfg       *am.Config
	db        *sql.DB
	registrar *registrar.Registrar
	logger    *zap.SugaredLogger
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// openApp loads configuration, opens the record database and composes the registrar.
func openApp() (*app, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	log := logger.Logger

	conn, err := db.OpenWithMigrations(cfg.GetDatabasePath(), log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	a := &app{cfg: cfg, db: conn, logger: log}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	var policyOpts []outbound.Option
	if m != nil {
		policyOpts = append(policyOpts, outbound.WithHook(m.ObserveOutbound))
	}
	policy := outbound.New(cfg.Outbound, log, policyOpts...)
	httpClient := &http.Client{Timeout: time.Duration(cfg.Content.TimeoutSeconds) * time.Second}

	reg, err := openLedger(cfg, conn, httpClient, policy, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	gateway := content.NewGateway(cfg.Content, policy, log)
	embedder, err := dedup.NewEmbedder(cfg.Embeddings, httpClient, policy, log)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "embeddings")
	}
	detector := dedup.NewDetector(cfg.Embeddings, embedder, gateway, m, log)

	forgery, err := trust.NewForgeryDetector(cfg.Forgery, httpClient, gateway, policy, log)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "forgery")
	}
	store := registration.NewSQLStore(conn, log)
	scorer := trust.NewScorer(store, reg, gateway, forgery, m, log)

	a.registrar = registrar.New(registrar.Deps{
		Store:    store,
		Ledger:   reg,
		KYC:      registration.NewSQLKYCDirectory(conn),
		Detector: detector,
		Verifier: registrar.Ed25519Verifier{},
		Scorer:   scorer,
		Metrics:  m,
		Logger:   log,
	}, registrar.PolicyFromConfig(cfg))

	log.Debugw("proofchain ready",
		"database", cfg.GetDatabasePath(),
		"ledger", cfg.Ledger.Backend,
		"embeddings", detector.Capability(),
		"forgery", forgery.Name())
	return a, nil
}

// openLedger selects the configured backend behind the outbound policy.
func openLedger(cfg *am.Config, conn *sql.DB, client *http.Client, policy *outbound.Policy, log *zap.SugaredLogger) (*ledger.Resilient, error) {
	var inner ledger.Registry
	switch cfg.Ledger.Backend {
	case am.LedgerBackendMemory:
		inner = ledger.NewMemory(1)
	case am.LedgerBackendSQLite:
		inner = ledger.NewSQLRegistry(conn, log)
	case am.LedgerBackendAlgod:
		inner = ledger.NewAlgodClient(cfg.Ledger.AlgodURL, cfg.Ledger.Token, cfg.Ledger.AppID, client, log)
	default:
		return nil, errors.NewInvalidRequestError("unknown ledger backend %q", cfg.Ledger.Backend)
	}
	return ledger.NewResilient(inner, policy), nil
}
