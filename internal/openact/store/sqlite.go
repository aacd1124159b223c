package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures the SQLite-backed Store.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" opens an in-memory database.
	Path string

	// MaxOpenConns bounds the connection pool (OPENACT_DB_MAX_CONNECTIONS).
	MaxOpenConns int

	// MasterKeyHex, when non-empty, enables AEAD field-level encryption of
	// AuthConnection token columns.
	MasterKeyHex string
}

// SQLiteStore is the reference Store backend: a pure-Go SQLite driver with
// foreign_keys, WAL journaling and synchronous=NORMAL pragmas.
type SQLiteStore struct {
	db     *sql.DB
	cipher *fieldCipher // nil disables encryption
}

// NewSQLite opens (creating if absent) a SQLite-backed Store and runs
// migrations.
func NewSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to connect: %w", err)
	}

	s := &SQLiteStore{db: db}

	if cfg.MasterKeyHex != "" {
		cipher, err := newFieldCipher(cfg.MasterKeyHex)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.cipher = cipher
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}

	return s, nil
}

// migrate creates the schema. It is idempotent: running it twice is a no-op.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			trn TEXT PRIMARY KEY,
			connector TEXT NOT NULL,
			name TEXT NOT NULL,
			config_json TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			version INTEGER NOT NULL,
			UNIQUE (connector, name)
		)`,
		`CREATE TABLE IF NOT EXISTS actions (
			trn TEXT PRIMARY KEY,
			connector TEXT NOT NULL,
			name TEXT NOT NULL,
			connection_trn TEXT NOT NULL REFERENCES connections(trn),
			config_json TEXT NOT NULL,
			mcp_enabled INTEGER NOT NULL,
			mcp_overrides_json TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			version INTEGER NOT NULL,
			UNIQUE (connection_trn, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_connector ON actions(connector)`,
		`CREATE TABLE IF NOT EXISTS auth_connections (
			trn TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			provider TEXT NOT NULL,
			user_id TEXT NOT NULL,
			access_token_enc TEXT,
			access_token_nonce TEXT,
			refresh_token_enc TEXT,
			refresh_token_nonce TEXT,
			expires_at INTEGER,
			token_type TEXT NOT NULL,
			scope TEXT,
			extra_enc TEXT,
			extra_nonce TEXT,
			key_version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orchestrator_runs (
			run_id TEXT PRIMARY KEY,
			command_id TEXT NOT NULL,
			tenant TEXT NOT NULL,
			action_trn TEXT NOT NULL,
			status TEXT NOT NULL,
			phase TEXT,
			heartbeat_at INTEGER NOT NULL,
			deadline_at INTEGER,
			metadata_json TEXT,
			result_json TEXT,
			error_json TEXT,
			correlation_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			version INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON orchestrator_runs(status)`,
		`CREATE TABLE IF NOT EXISTS orchestrator_outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			protocol TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			next_attempt_at INTEGER NOT NULL,
			last_error TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_ready ON orchestrator_outbox(next_attempt_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_run ON orchestrator_outbox(run_id)`,
		`CREATE TABLE IF NOT EXISTS run_checkpoints (
			run_id TEXT PRIMARY KEY,
			paused_state TEXT,
			context_json TEXT,
			await_meta_json TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// --- Connections ---

func (s *SQLiteStore) UpsertConnection(ctx context.Context, rec *ConnectionRecord) error {
	now := time.Now()
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var existingVersion int64
		var createdAt int64
		err := tx.QueryRowContext(ctx, `SELECT version, created_at FROM connections WHERE trn = ?`, rec.Trn).Scan(&existingVersion, &createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			var conflictTrn string
			cErr := tx.QueryRowContext(ctx, `SELECT trn FROM connections WHERE connector = ? AND name = ?`, rec.Connector, rec.Name).Scan(&conflictTrn)
			if cErr == nil && conflictTrn != rec.Trn {
				return ErrUniqueConflict
			}
			rec.CreatedAt = now
			rec.UpdatedAt = now
			rec.Version = 1
			_, iErr := tx.ExecContext(ctx, `INSERT INTO connections (trn, connector, name, config_json, created_at, updated_at, version) VALUES (?,?,?,?,?,?,?)`,
				rec.Trn, rec.Connector, rec.Name, rec.ConfigJSON, unixMillis(now), unixMillis(now), rec.Version)
			return iErr
		case err != nil:
			return err
		default:
			rec.CreatedAt = fromMillis(createdAt)
			rec.UpdatedAt = now
			rec.Version = existingVersion + 1
			_, uErr := tx.ExecContext(ctx, `UPDATE connections SET connector=?, name=?, config_json=?, updated_at=?, version=? WHERE trn=?`,
				rec.Connector, rec.Name, rec.ConfigJSON, unixMillis(now), rec.Version, rec.Trn)
			return uErr
		}
	})
}

func (s *SQLiteStore) GetConnection(ctx context.Context, trnStr string) (*ConnectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT trn, connector, name, config_json, created_at, updated_at, version FROM connections WHERE trn = ?`, trnStr)
	rec := &ConnectionRecord{}
	var createdAt, updatedAt int64
	if err := row.Scan(&rec.Trn, &rec.Connector, &rec.Name, &rec.ConfigJSON, &createdAt, &updatedAt, &rec.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.CreatedAt, rec.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	return rec, nil
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, trnStr string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM actions WHERE connection_trn = ?`, trnStr).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrForeignKey
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM connections WHERE trn = ?`, trnStr)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) ListConnectionsByConnector(ctx context.Context, connector string) ([]*ConnectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT trn, connector, name, config_json, created_at, updated_at, version FROM connections WHERE connector = ? ORDER BY name`, connector)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ConnectionRecord
	for rows.Next() {
		rec := &ConnectionRecord{}
		var createdAt, updatedAt int64
		if err := rows.Scan(&rec.Trn, &rec.Connector, &rec.Name, &rec.ConfigJSON, &createdAt, &updatedAt, &rec.Version); err != nil {
			return nil, err
		}
		rec.CreatedAt, rec.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListDistinctConnectors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT connector FROM connections ORDER BY connector`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Actions ---

func (s *SQLiteStore) UpsertAction(ctx context.Context, rec *ActionRecord) error {
	now := time.Now()
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var connExists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM connections WHERE trn = ?`, rec.ConnectionTrn).Scan(&connExists); err != nil {
			return err
		}
		if connExists == 0 {
			return ErrForeignKey
		}

		var existingVersion int64
		var createdAt int64
		err := tx.QueryRowContext(ctx, `SELECT version, created_at FROM actions WHERE trn = ?`, rec.Trn).Scan(&existingVersion, &createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			var conflictTrn string
			cErr := tx.QueryRowContext(ctx, `SELECT trn FROM actions WHERE connection_trn = ? AND name = ?`, rec.ConnectionTrn, rec.Name).Scan(&conflictTrn)
			if cErr == nil && conflictTrn != rec.Trn {
				return ErrUniqueConflict
			}
			rec.CreatedAt, rec.UpdatedAt, rec.Version = now, now, 1
			_, iErr := tx.ExecContext(ctx, `INSERT INTO actions (trn, connector, name, connection_trn, config_json, mcp_enabled, mcp_overrides_json, created_at, updated_at, version) VALUES (?,?,?,?,?,?,?,?,?,?)`,
				rec.Trn, rec.Connector, rec.Name, rec.ConnectionTrn, rec.ConfigJSON, rec.MCPEnabled, rec.MCPOverridesJSON, unixMillis(now), unixMillis(now), rec.Version)
			return iErr
		case err != nil:
			return err
		default:
			rec.CreatedAt = fromMillis(createdAt)
			rec.UpdatedAt = now
			rec.Version = existingVersion + 1
			_, uErr := tx.ExecContext(ctx, `UPDATE actions SET connector=?, name=?, connection_trn=?, config_json=?, mcp_enabled=?, mcp_overrides_json=?, updated_at=?, version=? WHERE trn=?`,
				rec.Connector, rec.Name, rec.ConnectionTrn, rec.ConfigJSON, rec.MCPEnabled, rec.MCPOverridesJSON, unixMillis(now), rec.Version, rec.Trn)
			return uErr
		}
	})
}

func scanAction(scanner interface{ Scan(...any) error }) (*ActionRecord, error) {
	rec := &ActionRecord{}
	var createdAt, updatedAt int64
	var overrides sql.NullString
	if err := scanner.Scan(&rec.Trn, &rec.Connector, &rec.Name, &rec.ConnectionTrn, &rec.ConfigJSON, &rec.MCPEnabled, &overrides, &createdAt, &updatedAt, &rec.Version); err != nil {
		return nil, err
	}
	rec.MCPOverridesJSON = overrides.String
	rec.CreatedAt, rec.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	return rec, nil
}

func (s *SQLiteStore) GetAction(ctx context.Context, trnStr string) (*ActionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT trn, connector, name, connection_trn, config_json, mcp_enabled, mcp_overrides_json, created_at, updated_at, version FROM actions WHERE trn = ?`, trnStr)
	rec, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) DeleteAction(ctx context.Context, trnStr string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE trn = ?`, trnStr)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListActionsByConnector(ctx context.Context, connector string) ([]*ActionRecord, error) {
	return s.queryActions(ctx, `SELECT trn, connector, name, connection_trn, config_json, mcp_enabled, mcp_overrides_json, created_at, updated_at, version FROM actions WHERE connector = ? ORDER BY name`, connector)
}

func (s *SQLiteStore) ListActionsByConnection(ctx context.Context, connectionTrn string) ([]*ActionRecord, error) {
	return s.queryActions(ctx, `SELECT trn, connector, name, connection_trn, config_json, mcp_enabled, mcp_overrides_json, created_at, updated_at, version FROM actions WHERE connection_trn = ? ORDER BY name`, connectionTrn)
}

func (s *SQLiteStore) queryActions(ctx context.Context, query, arg string) ([]*ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ActionRecord
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- AuthConnections ---

func (s *SQLiteStore) encryptAuth(rec *AuthConnection) (access, refresh, extra encryptedField, keyVersion int, err error) {
	if s.cipher == nil {
		return encryptedField{Ciphertext: rec.AccessToken}, encryptedField{Ciphertext: rec.RefreshToken}, encryptedField{Ciphertext: rec.Extra}, 0, nil
	}
	if access, err = s.cipher.encrypt(rec.AccessToken); err != nil {
		return
	}
	if refresh, err = s.cipher.encrypt(rec.RefreshToken); err != nil {
		return
	}
	if extra, err = s.cipher.encrypt(rec.Extra); err != nil {
		return
	}
	keyVersion = s.cipher.keyVersion
	return
}

func (s *SQLiteStore) decryptAuth(accessEnc, accessNonce, refreshEnc, refreshNonce, extraEnc, extraNonce string, keyVersion int) (access, refresh, extra string, err error) {
	if keyVersion == 0 || s.cipher == nil {
		return accessEnc, refreshEnc, extraEnc, nil
	}
	if access, err = s.cipher.decrypt(encryptedField{Ciphertext: accessEnc, Nonce: accessNonce}); err != nil {
		return
	}
	if refresh, err = s.cipher.decrypt(encryptedField{Ciphertext: refreshEnc, Nonce: refreshNonce}); err != nil {
		return
	}
	if extra, err = s.cipher.decrypt(encryptedField{Ciphertext: extraEnc, Nonce: extraNonce}); err != nil {
		return
	}
	return
}

func (s *SQLiteStore) UpsertAuthConnection(ctx context.Context, rec *AuthConnection) error {
	now := time.Now()
	access, refresh, extra, keyVersion, err := s.encryptAuth(rec)
	if err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var existingVersion int64
		var createdAt int64
		err := tx.QueryRowContext(ctx, `SELECT version, created_at FROM auth_connections WHERE trn = ?`, rec.Trn).Scan(&existingVersion, &createdAt)
		expiresAt := sql.NullInt64{}
		if rec.ExpiresAt != nil {
			expiresAt = sql.NullInt64{Int64: unixMillis(*rec.ExpiresAt), Valid: true}
		}
		switch {
		case errors.Is(err, sql.ErrNoRows):
			rec.CreatedAt, rec.UpdatedAt, rec.Version, rec.KeyVersion = now, now, 1, keyVersion
			_, iErr := tx.ExecContext(ctx, `INSERT INTO auth_connections
				(trn, tenant, provider, user_id, access_token_enc, access_token_nonce, refresh_token_enc, refresh_token_nonce, expires_at, token_type, scope, extra_enc, extra_nonce, key_version, created_at, updated_at, version)
				VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				rec.Trn, rec.Tenant, rec.Provider, rec.UserID, access.Ciphertext, access.Nonce, refresh.Ciphertext, refresh.Nonce, expiresAt, rec.TokenType, rec.Scope, extra.Ciphertext, extra.Nonce, keyVersion, unixMillis(now), unixMillis(now), rec.Version)
			return iErr
		case err != nil:
			return err
		default:
			rec.CreatedAt = fromMillis(createdAt)
			rec.UpdatedAt, rec.Version, rec.KeyVersion = now, existingVersion+1, keyVersion
			_, uErr := tx.ExecContext(ctx, `UPDATE auth_connections SET tenant=?, provider=?, user_id=?, access_token_enc=?, access_token_nonce=?, refresh_token_enc=?, refresh_token_nonce=?, expires_at=?, token_type=?, scope=?, extra_enc=?, extra_nonce=?, key_version=?, updated_at=?, version=? WHERE trn=?`,
				rec.Tenant, rec.Provider, rec.UserID, access.Ciphertext, access.Nonce, refresh.Ciphertext, refresh.Nonce, expiresAt, rec.TokenType, rec.Scope, extra.Ciphertext, extra.Nonce, keyVersion, unixMillis(now), rec.Version, rec.Trn)
			return uErr
		}
	})
}

func (s *SQLiteStore) scanAuthRow(row interface{ Scan(...any) error }) (*AuthConnection, error) {
	rec := &AuthConnection{}
	var createdAt, updatedAt int64
	var expiresAt sql.NullInt64
	var accessEnc, accessNonce, refreshEnc, refreshNonce, extraEnc, extraNonce sql.NullString
	if err := row.Scan(&rec.Trn, &rec.Tenant, &rec.Provider, &rec.UserID, &accessEnc, &accessNonce, &refreshEnc, &refreshNonce, &expiresAt, &rec.TokenType, &rec.Scope, &extraEnc, &extraNonce, &rec.KeyVersion, &createdAt, &updatedAt, &rec.Version); err != nil {
		return nil, err
	}
	access, refresh, extra, err := s.decryptAuth(accessEnc.String, accessNonce.String, refreshEnc.String, refreshNonce.String, extraEnc.String, extraNonce.String, rec.KeyVersion)
	if err != nil {
		return nil, err
	}
	rec.AccessToken, rec.RefreshToken, rec.Extra = access, refresh, extra
	rec.CreatedAt, rec.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	if expiresAt.Valid {
		t := fromMillis(expiresAt.Int64)
		rec.ExpiresAt = &t
	}
	return rec, nil
}

const authConnectionColumns = `trn, tenant, provider, user_id, access_token_enc, access_token_nonce, refresh_token_enc, refresh_token_nonce, expires_at, token_type, scope, extra_enc, extra_nonce, key_version, created_at, updated_at, version`

func (s *SQLiteStore) GetAuthConnection(ctx context.Context, trnStr string) (*AuthConnection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+authConnectionColumns+` FROM auth_connections WHERE trn = ?`, trnStr)
	rec, err := s.scanAuthRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) DeleteAuthConnection(ctx context.Context, trnStr string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_connections WHERE trn = ?`, trnStr)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSwapAuthConnection implements invariant 3: exactly one
// concurrent writer observing expectedVersion succeeds.
func (s *SQLiteStore) CompareAndSwapAuthConnection(ctx context.Context, trnStr string, expectedVersion int64, mutate func(existing *AuthConnection) (*AuthConnection, error)) (bool, error) {
	var ok bool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+authConnectionColumns+` FROM auth_connections WHERE trn = ?`, trnStr)
		existing, err := s.scanAuthRow(row)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		var currentVersion int64
		if existing != nil {
			currentVersion = existing.Version
		}
		if currentVersion != expectedVersion {
			ok = false
			return nil
		}

		updated, mErr := mutate(existing)
		if mErr != nil {
			return mErr
		}
		if updated == nil {
			if existing == nil {
				ok = false
				return nil
			}
			res, dErr := tx.ExecContext(ctx, `DELETE FROM auth_connections WHERE trn = ? AND version = ?`, trnStr, expectedVersion)
			if dErr != nil {
				return dErr
			}
			affected, _ := res.RowsAffected()
			ok = affected == 1
			return nil
		}

		access, refresh, extra, keyVersion, eErr := s.encryptAuth(updated)
		if eErr != nil {
			return eErr
		}
		now := time.Now()
		var expiresAt sql.NullInt64
		if updated.ExpiresAt != nil {
			expiresAt = sql.NullInt64{Int64: unixMillis(*updated.ExpiresAt), Valid: true}
		}

		if existing == nil {
			updated.CreatedAt, updated.UpdatedAt, updated.Version, updated.KeyVersion = now, now, 1, keyVersion
			_, iErr := tx.ExecContext(ctx, `INSERT INTO auth_connections (`+authConnectionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				updated.Trn, updated.Tenant, updated.Provider, updated.UserID, access.Ciphertext, access.Nonce, refresh.Ciphertext, refresh.Nonce, expiresAt, updated.TokenType, updated.Scope, extra.Ciphertext, extra.Nonce, keyVersion, unixMillis(now), unixMillis(now), updated.Version)
			if iErr != nil {
				return iErr
			}
			ok = true
			return nil
		}

		updated.Version = existing.Version + 1
		updated.UpdatedAt = now
		updated.KeyVersion = keyVersion
		res, uErr := tx.ExecContext(ctx, `UPDATE auth_connections SET tenant=?, provider=?, user_id=?, access_token_enc=?, access_token_nonce=?, refresh_token_enc=?, refresh_token_nonce=?, expires_at=?, token_type=?, scope=?, extra_enc=?, extra_nonce=?, key_version=?, updated_at=?, version=? WHERE trn=? AND version=?`,
			updated.Tenant, updated.Provider, updated.UserID, access.Ciphertext, access.Nonce, refresh.Ciphertext, refresh.Nonce, expiresAt, updated.TokenType, updated.Scope, extra.Ciphertext, extra.Nonce, keyVersion, unixMillis(now), updated.Version, trnStr, expectedVersion)
		if uErr != nil {
			return uErr
		}
		affected, _ := res.RowsAffected()
		ok = affected == 1
		return nil
	})
	return ok, err
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, rec *OrchestratorRunRecord) error {
	now := time.Now()
	rec.CreatedAt, rec.UpdatedAt, rec.HeartbeatAt, rec.Version = now, now, now, 1
	var deadline sql.NullInt64
	if rec.DeadlineAt != nil {
		deadline = sql.NullInt64{Int64: unixMillis(*rec.DeadlineAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO orchestrator_runs
		(run_id, command_id, tenant, action_trn, status, phase, heartbeat_at, deadline_at, metadata_json, result_json, error_json, correlation_id, created_at, updated_at, version)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.CommandID, rec.Tenant, rec.ActionTrn, string(rec.Status), rec.Phase, unixMillis(now), deadline, rec.MetadataJSON, rec.ResultJSON, rec.ErrorJSON, rec.CorrelationID, unixMillis(now), unixMillis(now), rec.Version)
	return err
}

func scanRun(row interface{ Scan(...any) error }) (*OrchestratorRunRecord, error) {
	rec := &OrchestratorRunRecord{}
	var status string
	var heartbeatAt, createdAt, updatedAt int64
	var deadline sql.NullInt64
	var phase, metadata, result, errJSON, correlation sql.NullString
	if err := row.Scan(&rec.RunID, &rec.CommandID, &rec.Tenant, &rec.ActionTrn, &status, &phase, &heartbeatAt, &deadline, &metadata, &result, &errJSON, &correlation, &createdAt, &updatedAt, &rec.Version); err != nil {
		return nil, err
	}
	rec.Status = RunStatus(status)
	rec.Phase, rec.MetadataJSON, rec.ResultJSON, rec.ErrorJSON, rec.CorrelationID = phase.String, metadata.String, result.String, errJSON.String, correlation.String
	rec.HeartbeatAt, rec.CreatedAt, rec.UpdatedAt = fromMillis(heartbeatAt), fromMillis(createdAt), fromMillis(updatedAt)
	if deadline.Valid {
		t := fromMillis(deadline.Int64)
		rec.DeadlineAt = &t
	}
	return rec, nil
}

const runColumns = `run_id, command_id, tenant, action_trn, status, phase, heartbeat_at, deadline_at, metadata_json, result_json, error_json, correlation_id, created_at, updated_at, version`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*OrchestratorRunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM orchestrator_runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// UpdateRun enforces invariant 9 (run monotonicity): once terminal, no
// further status mutation is accepted.
func (s *SQLiteStore) UpdateRun(ctx context.Context, runID string, mutate func(rec *OrchestratorRunRecord)) (bool, error) {
	var ok bool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM orchestrator_runs WHERE run_id = ?`, runID)
		rec, err := scanRun(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if rec.Status.IsTerminal() {
			ok = false
			return nil
		}
		mutate(rec)
		now := time.Now()
		rec.UpdatedAt = now
		rec.Version++
		var deadline sql.NullInt64
		if rec.DeadlineAt != nil {
			deadline = sql.NullInt64{Int64: unixMillis(*rec.DeadlineAt), Valid: true}
		}
		_, uErr := tx.ExecContext(ctx, `UPDATE orchestrator_runs SET status=?, phase=?, deadline_at=?, metadata_json=?, result_json=?, error_json=?, correlation_id=?, updated_at=?, version=? WHERE run_id=?`,
			string(rec.Status), rec.Phase, deadline, rec.MetadataJSON, rec.ResultJSON, rec.ErrorJSON, rec.CorrelationID, unixMillis(now), rec.Version, runID)
		if uErr != nil {
			return uErr
		}
		ok = true
		return nil
	})
	return ok, err
}

func (s *SQLiteStore) Heartbeat(ctx context.Context, runID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orchestrator_runs SET heartbeat_at=? WHERE run_id=? AND status='Running'`, unixMillis(at), runID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListStaleRunning(ctx context.Context, olderThan time.Time) ([]*OrchestratorRunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM orchestrator_runs WHERE status = 'Running' AND deadline_at IS NOT NULL AND deadline_at < ?`, unixMillis(olderThan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*OrchestratorRunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orchestrator_runs WHERE status IN ('Succeeded','Failed','Cancelled','TimedOut') AND updated_at < ?`, unixMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Outbox ---

func (s *SQLiteStore) EnqueueOutbox(ctx context.Context, rec *OutboxRecord) error {
	now := time.Now()
	rec.CreatedAt = now
	if rec.NextAttemptAt.IsZero() {
		rec.NextAttemptAt = now
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO orchestrator_outbox (run_id, protocol, payload_json, attempts, next_attempt_at, last_error, created_at) VALUES (?,?,?,?,?,?,?)`,
		rec.RunID, rec.Protocol, rec.PayloadJSON, rec.Attempts, unixMillis(rec.NextAttemptAt), rec.LastError, unixMillis(now))
	if err != nil {
		return err
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func scanOutbox(row interface{ Scan(...any) error }) (*OutboxRecord, error) {
	rec := &OutboxRecord{}
	var runID, lastError sql.NullString
	var nextAttempt, createdAt int64
	if err := row.Scan(&rec.ID, &runID, &rec.Protocol, &rec.PayloadJSON, &rec.Attempts, &nextAttempt, &lastError, &createdAt); err != nil {
		return nil, err
	}
	rec.RunID, rec.LastError = runID.String, lastError.String
	rec.NextAttemptAt, rec.CreatedAt = fromMillis(nextAttempt), fromMillis(createdAt)
	return rec, nil
}

const outboxColumns = `id, run_id, protocol, payload_json, attempts, next_attempt_at, last_error, created_at`

func (s *SQLiteStore) ListReadyOutbox(ctx context.Context, now time.Time, limit int) ([]*OutboxRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM orchestrator_outbox WHERE next_attempt_at <= ? ORDER BY next_attempt_at ASC, id ASC LIMIT ?`, unixMillis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListOutboxByRun(ctx context.Context, runID string) ([]*OutboxRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM orchestrator_outbox WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkOutboxDelivered(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orchestrator_outbox WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) MarkOutboxFailed(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE orchestrator_outbox SET attempts = attempts + 1, last_error = ?, next_attempt_at = ? WHERE id = ?`, lastError, unixMillis(nextAttemptAt), id)
	return err
}

// --- Checkpoints ---

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO run_checkpoints (run_id, paused_state, context_json, await_meta_json, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET paused_state=excluded.paused_state, context_json=excluded.context_json, await_meta_json=excluded.await_meta_json, updated_at=excluded.updated_at`,
		cp.RunID, cp.PausedState, cp.ContextJSON, cp.AwaitMetaJSON, unixMillis(now), unixMillis(now))
	return err
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, paused_state, context_json, await_meta_json, created_at, updated_at FROM run_checkpoints WHERE run_id = ?`, runID)
	cp := &Checkpoint{}
	var createdAt, updatedAt int64
	if err := row.Scan(&cp.RunID, &cp.PausedState, &cp.ContextJSON, &cp.AwaitMetaJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cp.CreatedAt, cp.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	return cp, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
