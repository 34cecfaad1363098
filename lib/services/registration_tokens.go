// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/continuwuity/continuwuity-sub001/lib/clock"
	"github.com/continuwuity/continuwuity-sub001/lib/codec"
	"github.com/continuwuity/continuwuity-sub001/lib/sqlitepool"
)

// tokenLength characters of rand.Text's base32 alphabet carry 80 bits.
const tokenLength = 16

const registrationTokenSchema = `
CREATE TABLE IF NOT EXISTS registration_tokens (
	token      TEXT PRIMARY KEY,
	creator    TEXT NOT NULL,
	uses       INTEGER NOT NULL DEFAULT 0,
	max_uses   INTEGER,
	expires_at INTEGER
);
`

// ErrConfigTokenNotRevocable is returned when revoking the token set in
// the configuration file.
var ErrConfigTokenNotRevocable = errors.New(
	"the token set in the config file cannot be revoked; edit the config file to change it")

// TokenSource says where a valid token came from.
type TokenSource int

const (
	// SourceConfig is the static token from the configuration file.
	SourceConfig TokenSource = iota
	// SourceDatabase is a token issued through the admin interface.
	SourceDatabase
)

func (s TokenSource) String() string {
	switch s {
	case SourceConfig:
		return "config"
	case SourceDatabase:
		return "database"
	default:
		return fmt.Sprintf("TokenSource(%d)", int(s))
	}
}

// Expiry bounds a database token. The zero value never expires.
type Expiry struct {
	// MaxUses is the number of registrations the token allows; 0 means
	// unlimited.
	MaxUses uint64
	// ExpiresAt is the instant the token stops being valid; zero means
	// never.
	ExpiresAt time.Time
}

// TokenInfo is the stored metadata of a database token.
type TokenInfo struct {
	Creator string    `cbor:"creator"`
	Uses    uint64    `cbor:"uses"`
	MaxUses uint64    `cbor:"max_uses"`
	Expires time.Time `cbor:"expires_at"`
}

// Valid reports whether the token may still be used at now.
func (i TokenInfo) Valid(now time.Time) bool {
	if i.MaxUses > 0 && i.Uses >= i.MaxUses {
		return false
	}
	if !i.Expires.IsZero() && now.After(i.Expires) {
		return false
	}
	return true
}

// ValidToken is a token that passed validation.
type ValidToken struct {
	Token  string
	Source TokenSource
	// Info is meaningful only for SourceDatabase.
	Info TokenInfo
}

func (t ValidToken) String() string {
	if t.Source == SourceConfig {
		return fmt.Sprintf("`%s` --- token defined in config", t.Token)
	}
	var limits string
	switch {
	case t.Info.MaxUses > 0 && !t.Info.Expires.IsZero():
		limits = fmt.Sprintf("used %d of %d times, expires %s", t.Info.Uses, t.Info.MaxUses, t.Info.Expires.UTC().Format(time.RFC3339))
	case t.Info.MaxUses > 0:
		limits = fmt.Sprintf("used %d of %d times", t.Info.Uses, t.Info.MaxUses)
	case !t.Info.Expires.IsZero():
		limits = fmt.Sprintf("used %d times, expires %s", t.Info.Uses, t.Info.Expires.UTC().Format(time.RFC3339))
	default:
		limits = fmt.Sprintf("used %d times, never expires", t.Info.Uses)
	}
	return fmt.Sprintf("`%s` --- created by %s, %s", t.Token, t.Info.Creator, limits)
}

// cachedValidity is the cache representation of a lookup. Invalid and
// unknown tokens are cached too, as Valid == false.
type cachedValidity struct {
	Valid bool      `cbor:"valid"`
	Info  TokenInfo `cbor:"info"`
}

// RegistrationTokens validates and manages registration tokens.
type RegistrationTokens struct {
	static   string
	pool     *sqlitepool.Pool
	cache    Cache
	cacheTTL time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

func newRegistrationTokens(static string, pool *sqlitepool.Pool, cache Cache, cacheTTL time.Duration, clk clock.Clock, logger *slog.Logger) *RegistrationTokens {
	return &RegistrationTokens{
		static:   static,
		pool:     pool,
		cache:    cache,
		cacheTTL: cacheTTL,
		clock:    clk,
		logger:   logger,
	}
}

func cacheKey(token string) string {
	return "registration_token:" + token
}

// ConfigToken returns the static token, if one is configured.
func (r *RegistrationTokens) ConfigToken() (ValidToken, bool) {
	if r.static == "" {
		return ValidToken{}, false
	}
	return ValidToken{Token: r.static, Source: SourceConfig}, true
}

// Issue creates a new random database token.
func (r *RegistrationTokens) Issue(ctx context.Context, creator string, expiry Expiry) (ValidToken, error) {
	token := rand.Text()[:tokenLength]
	info := TokenInfo{Creator: creator, MaxUses: expiry.MaxUses, Expires: expiry.ExpiresAt}

	err := r.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"INSERT INTO registration_tokens (token, creator, uses, max_uses, expires_at) VALUES (?, ?, 0, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{token, creator, nullableUses(info.MaxUses), nullableTime(info.Expires)}})
	})
	if err != nil {
		return ValidToken{}, fmt.Errorf("saving registration token: %w", err)
	}
	r.invalidate(ctx, token)

	r.logger.InfoContext(ctx, "registration token issued", "creator", creator,
		"max_uses", info.MaxUses, "expires_at", info.Expires)
	return ValidToken{Token: token, Source: SourceDatabase, Info: info}, nil
}

// Validate checks token. The config token is checked first, then the
// database. Database lookups are served from the cache when present.
func (r *RegistrationTokens) Validate(ctx context.Context, token string) (ValidToken, bool, error) {
	if token == "" {
		return ValidToken{}, false, nil
	}
	if static, ok := r.ConfigToken(); ok && static.Token == token {
		return static, true, nil
	}

	now := r.clock.Now()
	if cached, ok := r.cached(ctx, token); ok {
		if cached.Valid && cached.Info.Valid(now) {
			return ValidToken{Token: token, Source: SourceDatabase, Info: cached.Info}, true, nil
		}
		if !cached.Valid {
			return ValidToken{}, false, nil
		}
	}

	info, found, err := r.lookup(ctx, token)
	if err != nil {
		return ValidToken{}, false, err
	}
	valid := found && info.Valid(now)
	r.store(ctx, token, cachedValidity{Valid: valid, Info: info}, now)
	if !valid {
		return ValidToken{}, false, nil
	}
	return ValidToken{Token: token, Source: SourceDatabase, Info: info}, true, nil
}

// MarkUsed records one registration against token. Uses of the config
// token are not tracked.
func (r *RegistrationTokens) MarkUsed(ctx context.Context, token ValidToken) error {
	if token.Source == SourceConfig {
		return nil
	}
	err := r.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"UPDATE registration_tokens SET uses = uses + 1 WHERE token = ?",
			&sqlitex.ExecOptions{Args: []any{token.Token}})
	})
	if err != nil {
		return fmt.Errorf("recording registration token use: %w", err)
	}
	r.invalidate(ctx, token.Token)
	return nil
}

// Revoke deletes a database token. The config token cannot be revoked.
func (r *RegistrationTokens) Revoke(ctx context.Context, token ValidToken) error {
	if token.Source == SourceConfig {
		return ErrConfigTokenNotRevocable
	}
	if err := r.delete(ctx, token.Token); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "registration token revoked")
	return nil
}

// List returns every valid token, the config token first. Database
// tokens that are no longer valid are deleted while listing.
func (r *RegistrationTokens) List(ctx context.Context) ([]ValidToken, error) {
	var tokens []ValidToken
	if static, ok := r.ConfigToken(); ok {
		tokens = append(tokens, static)
	}

	now := r.clock.Now()
	var expired []string
	err := r.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT token, creator, uses, max_uses, expires_at FROM registration_tokens ORDER BY token",
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				token := stmt.ColumnText(0)
				info := scanTokenInfo(stmt, 1)
				if info.Valid(now) {
					tokens = append(tokens, ValidToken{Token: token, Source: SourceDatabase, Info: info})
				} else {
					expired = append(expired, token)
				}
				return nil
			}})
	})
	if err != nil {
		return nil, fmt.Errorf("listing registration tokens: %w", err)
	}

	for _, token := range expired {
		if err := r.delete(ctx, token); err != nil {
			return nil, err
		}
	}
	if len(expired) > 0 {
		r.logger.InfoContext(ctx, "purged invalid registration tokens", "count", len(expired))
	}
	return tokens, nil
}

func (r *RegistrationTokens) delete(ctx context.Context, token string) error {
	err := r.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM registration_tokens WHERE token = ?",
			&sqlitex.ExecOptions{Args: []any{token}})
	})
	if err != nil {
		return fmt.Errorf("deleting registration token: %w", err)
	}
	r.invalidate(ctx, token)
	return nil
}

func (r *RegistrationTokens) lookup(ctx context.Context, token string) (TokenInfo, bool, error) {
	var info TokenInfo
	var found bool
	err := r.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT creator, uses, max_uses, expires_at FROM registration_tokens WHERE token = ?",
			&sqlitex.ExecOptions{
				Args: []any{token},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					info = scanTokenInfo(stmt, 0)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return TokenInfo{}, false, fmt.Errorf("looking up registration token: %w", err)
	}
	return info, found, nil
}

// cached returns the cached validity. Cache failures are logged and
// treated as a miss: the database remains authoritative.
func (r *RegistrationTokens) cached(ctx context.Context, token string) (cachedValidity, bool) {
	data, found, err := r.cache.Get(ctx, cacheKey(token))
	if err != nil {
		r.logger.WarnContext(ctx, "registration token cache read failed", "error", err)
		return cachedValidity{}, false
	}
	if !found {
		return cachedValidity{}, false
	}
	var value cachedValidity
	if err := codec.Unmarshal(data, &value); err != nil {
		r.logger.WarnContext(ctx, "discarding undecodable cache entry", "error", err)
		return cachedValidity{}, false
	}
	return value, true
}

func (r *RegistrationTokens) store(ctx context.Context, token string, value cachedValidity, now time.Time) {
	ttl := r.cacheTTL
	if value.Valid && !value.Info.Expires.IsZero() {
		if remaining := value.Info.Expires.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	data, err := codec.Marshal(value)
	if err != nil {
		r.logger.WarnContext(ctx, "encoding cache entry", "error", err)
		return
	}
	if err := r.cache.Set(ctx, cacheKey(token), data, ttl); err != nil {
		r.logger.WarnContext(ctx, "registration token cache write failed", "error", err)
	}
}

func (r *RegistrationTokens) invalidate(ctx context.Context, token string) {
	if err := r.cache.Delete(ctx, cacheKey(token)); err != nil {
		r.logger.WarnContext(ctx, "registration token cache invalidation failed", "error", err)
	}
}

func scanTokenInfo(stmt *sqlite.Stmt, first int) TokenInfo {
	info := TokenInfo{
		Creator: stmt.ColumnText(first),
		Uses:    uint64(stmt.ColumnInt64(first + 1)),
	}
	if stmt.ColumnType(first+2) != sqlite.TypeNull {
		info.MaxUses = uint64(stmt.ColumnInt64(first + 2))
	}
	if stmt.ColumnType(first+3) != sqlite.TypeNull {
		info.Expires = time.UnixMilli(stmt.ColumnInt64(first + 3)).UTC()
	}
	return info
}

func nullableUses(maxUses uint64) any {
	if maxUses == 0 {
		return nil
	}
	return int64(maxUses)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
