package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const embedDimPlaceholder = "__EMBED_DIM__"

// EnsureBootstrapped applies the schema once, with the embedding column
// sized to embedDim. The meta table doubles as the applied-version marker;
// a second process racing the bootstrap is harmless because every
// statement is idempotent.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, embedDim int) error {
	if embedDim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", embedDim)
	}
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'study_sharper_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	if !exists {
		return runBootstrap(ctxBoot, db, embedDim)
	}

	var hasVersion bool
	if err := db.QueryRowContext(ctxBoot, `SELECT EXISTS (SELECT 1 FROM study_sharper_meta WHERE version = 1)`).Scan(&hasVersion); err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if !hasVersion {
		return runBootstrap(ctxBoot, db, embedDim)
	}

	return nil
}

// renderBootstrapSQL loads the embedded schema and substitutes the
// configured embedding width into the vector column definition.
func renderBootstrapSQL(embedDim int) (string, error) {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return "", fmt.Errorf("read initdb.sql: %w", err)
	}
	rendered := strings.ReplaceAll(string(sqlBytes), embedDimPlaceholder, strconv.Itoa(embedDim))
	if strings.Contains(rendered, embedDimPlaceholder) {
		return "", fmt.Errorf("unsubstituted placeholder in initdb.sql")
	}
	return rendered, nil
}

func runBootstrap(ctx context.Context, db *sql.DB, embedDim int) error {
	stmt, err := renderBootstrapSQL(embedDim)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
