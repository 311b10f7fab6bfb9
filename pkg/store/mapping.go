package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	// remoteAuthName is the auth plugin that links users to MNet peers.
	remoteAuthName = "xmlrpc"
	// remoteHostField is the auth instance config field holding the peer wwwroot.
	remoteHostField = "wwwroot"
)

// RemoteAccount is a local user's counterpart on an MNet peer.
type RemoteAccount struct {
	Host     string `db:"mnethost"`
	Username string `db:"remoteusername"`
}

type MappingRepository struct {
	db    *sqlx.DB
	query string
}

func NewMappingRepository(db *sqlx.DB, tablePrefix string) *MappingRepository {
	q := fmt.Sprintf(`
		SELECT aic.value AS mnethost, aru.remoteusername
		  FROM %s aic
		  JOIN %s ai ON (aic.instance = ai.id)
		  JOIN %s u ON (u.authinstance = ai.id)
		  JOIN %s aru ON (aru.authinstance = ai.id AND aru.localusr = u.id)
		 WHERE ai.authname = ?
		   AND aic.field = ?
		   AND u.id = ?`,
		table(tablePrefix, "auth_instance_config"),
		table(tablePrefix, "auth_instance"),
		table(tablePrefix, "usr"),
		table(tablePrefix, "auth_remote_user"),
	)
	return &MappingRepository{
		db:    db,
		query: db.Rebind(q),
	}
}

// FindRemoteAccount returns the MNet host and remote username for userID.
// found is false when the user has no remote counterpart. Only the first
// row is used.
func (r *MappingRepository) FindRemoteAccount(ctx context.Context, userID int64) (RemoteAccount, bool, error) {
	var account RemoteAccount
	err := r.db.GetContext(ctx, &account, r.query, remoteAuthName, remoteHostField, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RemoteAccount{}, false, nil
		}
		return RemoteAccount{}, false, fmt.Errorf("lookup remote account for user %d: %w", userID, err)
	}
	return account, true, nil
}
