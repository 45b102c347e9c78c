package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/frahmantamala/viso/internal/permission"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
)

// ClaimsSource yields the access token claims of the request's session.
type ClaimsSource interface {
	Claims(ctx context.Context) (jwt.MapClaims, error)
}

// PermissionRPC calls has_permission directly in the database with the
// caller's claims installed the way the REST gateway installs them.
type PermissionRPC struct {
	db     *sqlx.DB
	claims ClaimsSource
}

func NewPermissionRPC(db *sqlx.DB, claims ClaimsSource) *PermissionRPC {
	return &PermissionRPC{db: db, claims: claims}
}

func nullable(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

func (p *PermissionRPC) HasPermission(ctx context.Context, code string, sc permission.Context) (bool, error) {
	claims, err := p.claims.Claims(ctx)
	if err != nil {
		return false, fmt.Errorf("session claims: %w", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return false, fmt.Errorf("encode claims: %w", err)
	}
	sub, _ := claims.GetSubject()

	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('request.jwt.claims', $1, true), set_config('request.jwt.claim.sub', $2, true)`,
		string(payload), sub); err != nil {
		return false, fmt.Errorf("install claims: %w", err)
	}

	var allowed sql.NullBool
	if err := tx.GetContext(ctx, &allowed, `SELECT has_permission($1, $2::uuid, $3::uuid)`,
		code, nullable(sc.SiteID), nullable(sc.AreaID)); err != nil {
		return false, fmt.Errorf("has_permission(%s): %w", code, err)
	}
	return allowed.Valid && allowed.Bool, nil
}
