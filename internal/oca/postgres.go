package oca

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
	"github.com/wilkinlas2/IBKR-Server-V6/internal/types"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		create table if not exists oca_groups (
			group_id text primary key,
			symbol text not null,
			active boolean not null default true,
			created_at timestamptz not null default now()
		);
		create table if not exists oca_legs (
			group_id text not null references oca_groups(group_id) on delete cascade,
			role text not null,
			internal_id text not null,
			broker_order_id bigint,
			status text,
			unique (group_id, role)
		);
	`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]*model.OcaGroup, error) {
	rows, err := s.pool.Query(ctx, "select group_id, symbol, active from oca_groups")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	groups := make(map[string]*model.OcaGroup)
	for rows.Next() {
		var g model.OcaGroup
		if err := rows.Scan(&g.ID, &g.Symbol, &g.Active); err != nil {
			return nil, err
		}
		groups[g.ID] = &g
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	legRows, err := s.pool.Query(ctx, "select group_id, role, internal_id, broker_order_id, status from oca_legs")
	if err != nil {
		return nil, err
	}
	defer legRows.Close()
	for legRows.Next() {
		var groupID, role, internalID string
		var brokerID *int64
		var status *string
		if err := legRows.Scan(&groupID, &role, &internalID, &brokerID, &status); err != nil {
			return nil, err
		}
		g, ok := groups[groupID]
		if !ok {
			continue
		}
		leg := model.Leg{Role: types.LegRole(role), InternalID: internalID}
		if brokerID != nil {
			leg.BrokerID = *brokerID
		}
		if status != nil {
			leg.Status = types.OrderStatus(*status)
		}
		g.Legs = append(g.Legs, leg)
	}
	return groups, legRows.Err()
}

func (s *PostgresStore) SaveGroup(ctx context.Context, g *model.OcaGroup) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `
		insert into oca_groups (group_id, symbol, active) values ($1, $2, $3)
		on conflict (group_id) do update set symbol = excluded.symbol, active = excluded.active
	`, g.ID, g.Symbol, g.Active); err != nil {
		return err
	}
	for _, leg := range g.Legs {
		if err := upsertLeg(ctx, tx, g.ID, leg); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SaveLeg(ctx context.Context, groupID string, leg model.Leg) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := upsertLeg(ctx, tx, groupID, leg); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func upsertLeg(ctx context.Context, tx pgx.Tx, groupID string, leg model.Leg) error {
	var brokerID *int64
	if leg.BrokerID != 0 {
		brokerID = &leg.BrokerID
	}
	var status *string
	if leg.Status != "" {
		st := string(leg.Status)
		status = &st
	}
	_, err := tx.Exec(ctx, `
		insert into oca_legs (group_id, role, internal_id, broker_order_id, status)
		values ($1, $2, $3, $4, $5)
		on conflict (group_id, role) do update set
			internal_id = excluded.internal_id,
			broker_order_id = excluded.broker_order_id,
			status = excluded.status
	`, groupID, string(leg.Role), leg.InternalID, brokerID, status)
	return err
}

func (s *PostgresStore) SetActive(ctx context.Context, groupID string, active bool) error {
	_, err := s.pool.Exec(ctx, "update oca_groups set active = $1 where group_id = $2", active, groupID)
	return err
}
