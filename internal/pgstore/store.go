// Package pgstore is the persistent store adapter: a thin, mostly
// read-only wrapper over a pgxpool pool exposing the lookups the rest
// of the gateway needs. All operations are short reads; a missing row
// surfaces as ok=false (or an empty result set), a transport failure as
// ErrUnavailable, and the two are never conflated.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

// Store wraps a connection pool and implements every read the gateway's
// identity, access, and credential-resolution layers need.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a pooled connection to Postgres: bounded pool size,
// connection lifetime/idle limits, and a startup ping so a bad DSN
// fails fast rather than on first query.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func errorsJoinUnavailable(err error) error {
	return errors.Join(ErrUnavailable, err)
}

// GroupsForUser returns the groups the user-group-membership table
// lists for email.
func (s *Store) GroupsForUser(ctx context.Context, email string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT group_name FROM user_group_membership WHERE user_email = $1`, email)
	if err != nil {
		return nil, errorsJoinUnavailable(err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, errorsJoinUnavailable(err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsJoinUnavailable(err)
	}
	return groups, nil
}

// ServerIDsForGroup returns the server IDs the group-server-mapping
// table grants to group.
func (s *Store) ServerIDsForGroup(ctx context.Context, group string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT server_id FROM group_server_mapping WHERE group_name = $1`, group)
	if err != nil {
		return nil, errorsJoinUnavailable(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errorsJoinUnavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsJoinUnavailable(err)
	}
	return ids, nil
}

// DirectServerIDsForUser returns the server IDs the direct-user-access
// table grants to email, independent of any group.
func (s *Store) DirectServerIDsForUser(ctx context.Context, email string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT server_id FROM direct_user_access WHERE user_email = $1`, email)
	if err != nil {
		return nil, errorsJoinUnavailable(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errorsJoinUnavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsJoinUnavailable(err)
	}
	return ids, nil
}

// IsAdmin reads the user-admin-flag table for email. Absence of a row
// means false, not an error; admin-ness is a boolean fact, never a
// lookup failure.
func (s *Store) IsAdmin(ctx context.Context, email string) (bool, error) {
	var admin bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_admin FROM user_admin_flag WHERE user_email = $1`, email).Scan(&admin)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errorsJoinUnavailable(err)
	}
	return admin, nil
}

// EmailForSubject maps an identity-provider user id to an email via the
// external identity table. The table is owned by the identity store;
// the gateway only reads it.
func (s *Store) EmailForSubject(ctx context.Context, subject string) (string, bool, error) {
	var email string
	err := s.pool.QueryRow(ctx,
		`SELECT email FROM identity_user WHERE user_id = $1`, subject).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errorsJoinUnavailable(err)
	}
	return email, true, nil
}

// CredentialFor returns a tenant-keyed secret for (tenant, server, key).
func (s *Store) CredentialFor(ctx context.Context, tenantID, serverID, keyName string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT secret_value FROM tenant_credential WHERE tenant_id = $1 AND server_id = $2 AND key_name = $3`,
		tenantID, serverID, keyName).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errorsJoinUnavailable(err)
	}
	return value, true, nil
}

// EndpointOverrideFor returns a tenant-keyed endpoint replacement.
func (s *Store) EndpointOverrideFor(ctx context.Context, tenantID, serverID string) (string, bool, error) {
	var endpoint string
	err := s.pool.QueryRow(ctx,
		`SELECT endpoint FROM tenant_endpoint_override WHERE tenant_id = $1 AND server_id = $2`,
		tenantID, serverID).Scan(&endpoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errorsJoinUnavailable(err)
	}
	return endpoint, true, nil
}

// ToolKey identifies one cached tool for a bulk embedding read.
type ToolKey struct {
	ServerID string
	ToolName string
}

// StoreEmbedding upserts a single tool's embedding vector.
func (s *Store) StoreEmbedding(ctx context.Context, serverID, toolName string, vector []float32) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_embedding (server_id, tool_name, embedding)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (server_id, tool_name) DO UPDATE SET embedding = excluded.embedding`,
		serverID, toolName, pgvector.NewVector(vector))
	if err != nil {
		return errorsJoinUnavailable(err)
	}
	return nil
}

// EmbeddingsFor bulk-reads stored embedding vectors for a set of tool
// keys, keyed by "server_id/tool_name" in the result map. Keys with no
// stored embedding are simply absent.
func (s *Store) EmbeddingsFor(ctx context.Context, keys []ToolKey) (map[string][]float32, error) {
	if len(keys) == 0 {
		return map[string][]float32{}, nil
	}

	serverIDs := make([]string, len(keys))
	toolNames := make([]string, len(keys))
	for i, k := range keys {
		serverIDs[i] = k.ServerID
		toolNames[i] = k.ToolName
	}

	rows, err := s.pool.Query(ctx,
		`SELECT server_id, tool_name, embedding FROM tool_embedding
		 WHERE (server_id, tool_name) = ANY (SELECT unnest($1::text[]), unnest($2::text[]))`,
		serverIDs, toolNames)
	if err != nil {
		return nil, errorsJoinUnavailable(err)
	}
	defer rows.Close()

	out := make(map[string][]float32, len(keys))
	for rows.Next() {
		var serverID, toolName string
		var vec pgvector.Vector
		if err := rows.Scan(&serverID, &toolName, &vec); err != nil {
			return nil, errorsJoinUnavailable(err)
		}
		out[serverID+"/"+toolName] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, errorsJoinUnavailable(err)
	}
	return out, nil
}
