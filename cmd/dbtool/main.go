// dbtool applies the ledger schema and runs operator tasks that have no
// API surface, most notably revocation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	ledgerpersistence "github.com/stetops/stet/modules/ledger/infrastructure/persistence"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <schema-apply|ledger-smoke|revoke> [args]")
	}

	switch os.Args[1] {
	case "schema-apply":
		schemaApply(os.Args[2:])
	case "ledger-smoke":
		ledgerSmoke(os.Args[2:])
	case "revoke":
		revoke(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS corrections (
    correction_id   uuid PRIMARY KEY,
    tenant_id       uuid NOT NULL,
    subject_type    text NOT NULL,
    subject_id      text NOT NULL,
    field_key       text NOT NULL,
    value           jsonb NOT NULL,
    class           text NOT NULL,
    status          text NOT NULL,
    supersedes      uuid,
    permissions     jsonb NOT NULL,
    actor_type      text NOT NULL,
    actor_id        text NOT NULL,
    idempotency_key text NOT NULL,
    created_at      timestamptz NOT NULL,
    origin          jsonb NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS corrections_one_active_per_field
    ON corrections (tenant_id, subject_type, subject_id, field_key)
    WHERE status = 'ACTIVE';

CREATE INDEX IF NOT EXISTS corrections_subject_idx
    ON corrections (tenant_id, subject_type, subject_id);

ALTER TABLE corrections ENABLE ROW LEVEL SECURITY;
ALTER TABLE corrections FORCE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS corrections_tenant_isolation ON corrections;
CREATE POLICY corrections_tenant_isolation ON corrections
    USING (tenant_id = nullif(current_setting('app.current_tenant', true), '')::uuid);

CREATE TABLE IF NOT EXISTS idempotency (
    tenant_id     uuid NOT NULL,
    key           text NOT NULL,
    correction_id uuid NOT NULL,
    payload_hash  text NOT NULL,
    CONSTRAINT idempotency_pkey PRIMARY KEY (tenant_id, key)
);

ALTER TABLE idempotency ENABLE ROW LEVEL SECURITY;
ALTER TABLE idempotency FORCE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS idempotency_tenant_isolation ON idempotency;
CREATE POLICY idempotency_tenant_isolation ON idempotency
    USING (tenant_id = nullif(current_setting('app.current_tenant', true), '')::uuid);

CREATE TABLE IF NOT EXISTS enforcement_heartbeats (
    tenant_id                   uuid NOT NULL,
    system_id                   text NOT NULL,
    enforced_correction_version timestamptz NOT NULL,
    reported_at                 timestamptz NOT NULL DEFAULT now(),
    origin                      jsonb NOT NULL
);

CREATE INDEX IF NOT EXISTS enforcement_heartbeats_system_idx
    ON enforcement_heartbeats (tenant_id, system_id, reported_at DESC);

ALTER TABLE enforcement_heartbeats ENABLE ROW LEVEL SECURITY;
ALTER TABLE enforcement_heartbeats FORCE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS enforcement_heartbeats_tenant_isolation ON enforcement_heartbeats;
CREATE POLICY enforcement_heartbeats_tenant_isolation ON enforcement_heartbeats
    USING (tenant_id = nullif(current_setting('app.current_tenant', true), '')::uuid);
`

func schemaApply(args []string) {
	fs := flag.NewFlagSet("schema-apply", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, schemaDDL); err != nil {
		fatal(err)
	}
	fmt.Println("schema-apply: ok")
}

// ledgerSmoke proves the partial unique index is live: a second ACTIVE
// row for the same (tenant, subject, field) must be rejected.
func ledgerSmoke(args []string) {
	fs := flag.NewFlagSet("ledger-smoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tenantID := "00000000-0000-0000-0000-000000000000"
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		fatal(err)
	}

	const insert = `
INSERT INTO corrections (
    correction_id, tenant_id, subject_type, subject_id, field_key, value,
    class, status, permissions, actor_type, actor_id, idempotency_key,
    created_at, origin
) VALUES (gen_random_uuid(), $1, 'employee', 'smoke', 'smoke.field', '"x"',
    'FACT', 'ACTIVE', '{"readers":["smoke"]}', 'service', 'dbtool', $2,
    now(), '{"service":"dbtool"}')`

	if _, err := tx.Exec(ctx, insert, tenantID, "smoke-1"); err != nil {
		fatal(err)
	}
	if _, err := tx.Exec(ctx, insert, tenantID, "smoke-2"); err == nil {
		fatalf("ledger-smoke: duplicate ACTIVE row was accepted; index missing?")
	}
	fmt.Println("ledger-smoke: ok (duplicate ACTIVE rejected)")
}

// revoke is the only path to REVOKED. It is deliberately not exposed
// over HTTP; operators run it against the database directly.
func revoke(args []string) {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url, tenantID, correctionID string
	fs.StringVar(&url, "url", "", "postgres connection string")
	fs.StringVar(&tenantID, "tenant", "", "tenant id")
	fs.StringVar(&correctionID, "correction", "", "correction id to revoke")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" || tenantID == "" || correctionID == "" {
		fatalf("missing --url, --tenant or --correction")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	store := ledgerpersistence.NewCorrectionPGStore(conn)
	if err := store.Revoke(ctx, tenantID, correctionID); err != nil {
		fatal(err)
	}

	out, _ := json.Marshal(map[string]string{
		"correction_id": correctionID,
		"status":        "REVOKED",
	})
	fmt.Println(string(out))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "dbtool:", err)
	os.Exit(1)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "dbtool: "+format+"\n", args...)
	os.Exit(1)
}
