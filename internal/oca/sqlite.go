package oca

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

// SQLiteStore is the file-backed default when no postgres DSN is configured.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		create table if not exists oca_groups (
			group_id text primary key,
			symbol text not null,
			active integer not null default 1,
			created_at datetime default current_timestamp
		);
		create table if not exists oca_legs (
			group_id text not null,
			role text not null,
			internal_id text not null,
			broker_order_id integer,
			status text,
			unique (group_id, role),
			foreign key (group_id) references oca_groups(group_id) on delete cascade
		);
	`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]*model.OcaGroup, error) {
	rows, err := s.db.QueryContext(ctx, "select group_id, symbol, active from oca_groups")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	groups := make(map[string]*model.OcaGroup)
	for rows.Next() {
		var g model.OcaGroup
		var active int
		if err := rows.Scan(&g.ID, &g.Symbol, &active); err != nil {
			return nil, err
		}
		g.Active = active != 0
		groups[g.ID] = &g
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	legRows, err := s.db.QueryContext(ctx, "select group_id, role, internal_id, broker_order_id, status from oca_legs")
	if err != nil {
		return nil, err
	}
	defer legRows.Close()
	for legRows.Next() {
		var groupID, role, internalID string
		var brokerID sql.NullInt64
		var status sql.NullString
		if err := legRows.Scan(&groupID, &role, &internalID, &brokerID, &status); err != nil {
			return nil, err
		}
		g, ok := groups[groupID]
		if !ok {
			continue
		}
		leg := model.Leg{Role: types.LegRole(role), InternalID: internalID}
		if brokerID.Valid {
			leg.BrokerID = brokerID.Int64
		}
		if status.Valid {
			leg.Status = types.OrderStatus(status.String)
		}
		g.Legs = append(g.Legs, leg)
	}
	return groups, legRows.Err()
}

func (s *SQLiteStore) SaveGroup(ctx context.Context, g *model.OcaGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		insert into oca_groups (group_id, symbol, active) values (?, ?, ?)
		on conflict (group_id) do update set symbol = excluded.symbol, active = excluded.active
	`, g.ID, g.Symbol, boolToInt(g.Active)); err != nil {
		return err
	}
	for _, leg := range g.Legs {
		if err := sqliteUpsertLeg(ctx, tx, g.ID, leg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveLeg(ctx context.Context, groupID string, leg model.Leg) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := sqliteUpsertLeg(ctx, tx, groupID, leg); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetActive(ctx context.Context, groupID string, active bool) error {
	_, err := s.db.ExecContext(ctx, "update oca_groups set active = ? where group_id = ?", boolToInt(active), groupID)
	return err
}

func sqliteUpsertLeg(ctx context.Context, tx *sql.Tx, groupID string, leg model.Leg) error {
	var brokerID any
	if leg.BrokerID != 0 {
		brokerID = leg.BrokerID
	}
	var status any
	if leg.Status != "" {
		status = string(leg.Status)
	}
	_, err := tx.ExecContext(ctx, `
		insert into oca_legs (group_id, role, internal_id, broker_order_id, status)
		values (?, ?, ?, ?, ?)
		on conflict (group_id, role) do update set
			internal_id = excluded.internal_id,
			broker_order_id = excluded.broker_order_id,
			status = excluded.status
	`, groupID, string(leg.Role), leg.InternalID, brokerID, status)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
