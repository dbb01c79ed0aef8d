package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stetops/stet/internal/routing"
	enfports "github.com/stetops/stet/modules/enforcement/domain/ports"
	enftypes "github.com/stetops/stet/modules/enforcement/domain/types"
	enforcementpersistence "github.com/stetops/stet/modules/enforcement/infrastructure/persistence"
	enforcementservices "github.com/stetops/stet/modules/enforcement/services"
	ledgerports "github.com/stetops/stet/modules/ledger/domain/ports"
	ledgertypes "github.com/stetops/stet/modules/ledger/domain/types"
	ledgerpersistence "github.com/stetops/stet/modules/ledger/infrastructure/persistence"
	ledgerservices "github.com/stetops/stet/modules/ledger/services"
)

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

// HandlerOptions lets tests and embedders swap the stores and policy.
// Any nil store falls back to the shared Postgres pool built from the
// environment.
type HandlerOptions struct {
	CorrectionWriteStore ledgerports.CorrectionWriteStore
	CorrectionReadStore  ledgerports.CorrectionReadStore
	HeartbeatStore       enfports.HeartbeatStore
	Authorizer           authorizer

	Thresholds      *enforcementservices.Thresholds
	EscalationRules []enforcementservices.EscalationRule
	RateLimit       int
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	allowlistPath := os.Getenv("ALLOWLIST_PATH")
	if allowlistPath == "" {
		p, err := defaultAllowlistPath()
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}

	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}

	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	writeStore := opts.CorrectionWriteStore
	readStore := opts.CorrectionReadStore
	heartbeatStore := opts.HeartbeatStore

	var pgPool *pgxpool.Pool
	if writeStore == nil || readStore == nil || heartbeatStore == nil {
		pool, err := pgxpool.New(context.Background(), dbDSNFromEnv())
		if err != nil {
			return nil, err
		}
		pgPool = pool
		store := ledgerpersistence.NewCorrectionPGStore(pgPool)
		if writeStore == nil {
			writeStore = store
		}
		if readStore == nil {
			readStore = store
		}
		if heartbeatStore == nil {
			heartbeatStore = enforcementpersistence.NewHeartbeatPGStore(pgPool)
		}
	}

	az := opts.Authorizer
	if az == nil {
		loaded, err := loadAuthorizer()
		if err != nil {
			return nil, err
		}
		az = loaded
	}

	thresholds := thresholdsFromEnv()
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}

	rules := opts.EscalationRules
	if rules == nil {
		rules, err = enforcementservices.LoadEscalationRules(os.Getenv("ESCALATION_RULES_PATH"))
		if err != nil {
			return nil, err
		}
	}

	origin := originFromEnv()
	writeService := ledgerservices.NewCorrectionWriteService(writeStore, ledgertypes.Origin{
		Service:     origin.Service,
		Version:     origin.Version,
		Environment: origin.Environment,
	})
	projector := ledgerservices.NewCorrectionProjector(readStore)
	evaluator := enforcementservices.NewDriftEvaluator(heartbeatStore, thresholds, rules)

	m := loadMetrics()

	router := routing.NewRouter(classifier)

	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	router.Handle(routing.RouteClassOps, http.MethodGet, "/metrics", metricsHandler())

	router.Handle(routing.RouteClassPublicAPI, http.MethodPost, "/v1/corrections", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCorrectionsAPI(w, r, writeService, m)
	}))
	router.Handle(routing.RouteClassPublicAPI, http.MethodGet, "/v1/facts", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleFactsAPI(w, r, projector)
	}))
	router.Handle(routing.RouteClassPublicAPI, http.MethodGet, "/v1/history", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleHistoryAPI(w, r, projector)
	}))
	router.Handle(routing.RouteClassPublicAPI, http.MethodPost, "/v1/enforcement/heartbeat", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEnforcementHeartbeatAPI(w, r, evaluator, origin, m)
	}))
	router.Handle(routing.RouteClassPublicAPI, http.MethodGet, "/v1/enforcement/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEnforcementStatusAPI(w, r, evaluator, thresholds)
	}))
	router.Handle(routing.RouteClassPublicAPI, http.MethodGet, "/v1/enforcement/escalation", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEnforcementEscalationAPI(w, r, evaluator)
	}))

	rateLimit := opts.RateLimit
	if rateLimit <= 0 {
		rateLimit = intFromEnv("RATE_LIMIT_PER_MINUTE", 60)
	}
	limiter := newRateLimiter(rateLimit, time.Minute)

	guarded := withTenantHeader(classifier,
		withRateLimit(limiter, m, classifier,
			withAuthz(classifier, az, router)))

	return withRequestMetrics(m, guarded), nil
}

func MustNewHandler() http.Handler {
	h, err := NewHandler()
	if err != nil {
		panic(errors.New("server: failed to build handler: " + err.Error()))
	}
	return h
}

func defaultAllowlistPath() (string, error) {
	path := "config/routing/allowlist.yaml"
	for i := 0; i < 8; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: allowlist not found")
}

func originFromEnv() enftypes.Origin {
	return enftypes.Origin{
		Service:     getenvDefault("STET_SERVICE", "stet-api"),
		Version:     getenvDefault("STET_VERSION", "dev"),
		Environment: getenvDefault("STET_ENV", "local"),
	}
}

func thresholdsFromEnv() enforcementservices.Thresholds {
	t := enforcementservices.Thresholds{
		HeartbeatIntervalSeconds: intFromEnv("HEARTBEAT_INTERVAL_SECONDS", 60),
		GraceMultiplier:          1.5,
	}
	if raw := os.Getenv("HEARTBEAT_GRACE_MULTIPLIER"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			t.GraceMultiplier = v
		}
	}
	return t
}

func intFromEnv(key string, def int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}
