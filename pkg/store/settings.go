package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/secrets"
)

// PluginName is the plugin key under which settings are stored.
const PluginName = "mahoodle"

// SettingWebserviceToken is the field holding the remote webservice token.
const SettingWebserviceToken = "moodle_webservice_token"

// SettingsRepository reads and writes rows of Mahara's module_config table.
type SettingsRepository struct {
	db     *sqlx.DB
	table  string
	plugin string
}

func NewSettingsRepository(db *sqlx.DB, tablePrefix string) *SettingsRepository {
	return &SettingsRepository{
		db:     db,
		table:  table(tablePrefix, "module_config"),
		plugin: PluginName,
	}
}

// Get returns the stored value for field, or "" when unset.
func (r *SettingsRepository) Get(ctx context.Context, field string) (string, error) {
	value, _, err := r.Lookup(ctx, field)
	return value, err
}

// Lookup is Get that also reports whether a row exists.
func (r *SettingsRepository) Lookup(ctx context.Context, field string) (string, bool, error) {
	var value sql.NullString
	q := r.db.Rebind(fmt.Sprintf("SELECT value FROM %s WHERE plugin = ? AND field = ?", r.table))
	err := r.db.GetContext(ctx, &value, q, r.plugin, field)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s.%s: %w", r.plugin, field, err)
	}
	return value.String, true, nil
}

// Set stores value for field, replacing any previous value.
func (r *SettingsRepository) Set(ctx context.Context, field, value string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	var count int
	q := r.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE plugin = ? AND field = ?", r.table))
	if err := tx.GetContext(ctx, &count, q, r.plugin, field); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write %s.%s: %w", r.plugin, field, err)
	}

	if count > 0 {
		q = fmt.Sprintf("UPDATE %s SET value = ? WHERE plugin = ? AND field = ?", r.table)
		_, err = tx.ExecContext(ctx, r.db.Rebind(q), value, r.plugin, field)
	} else {
		q = fmt.Sprintf("INSERT INTO %s (plugin, field, value) VALUES (?, ?, ?)", r.table)
		_, err = tx.ExecContext(ctx, r.db.Rebind(q), r.plugin, field, value)
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write %s.%s: %w", r.plugin, field, err)
	}

	return tx.Commit()
}

// Token implements a token source backed by the stored webservice token.
// A stored empty value means an administrator switched forwarding off and is
// reported as secrets.ErrDisabled; a missing row yields "".
func (r *SettingsRepository) Token(ctx context.Context) (string, error) {
	token, found, err := r.Lookup(ctx, SettingWebserviceToken)
	if err != nil {
		return "", err
	}
	if found && strings.TrimSpace(token) == "" {
		return "", secrets.ErrDisabled
	}
	return token, nil
}

// SetToken stores the webservice token.
func (r *SettingsRepository) SetToken(ctx context.Context, token string) error {
	return r.Set(ctx, SettingWebserviceToken, token)
}
