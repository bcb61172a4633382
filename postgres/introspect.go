package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ridoystarlord/persisto/backend"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func tableExists(ctx context.Context, q querier, schemaName, table string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `
	SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2 AND table_type IN ('BASE TABLE', 'VIEW')
	)`, schemaName, table).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking table %s.%s: %w", schemaName, table, err)
	}
	return ok, nil
}

func getColumns(ctx context.Context, q querier, schemaName, table string) ([]backend.ColumnInfo, error) {
	columnsQuery := `
	SELECT
		c.column_name,
		c.data_type,
		(c.is_nullable = 'YES') AS is_nullable,
		EXISTS (
			SELECT 1
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON kcu.constraint_name = tc.constraint_name
				AND kcu.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = c.table_schema
				AND tc.table_name = c.table_name
				AND kcu.column_name = c.column_name
		) AS is_primary
	FROM information_schema.columns c
	WHERE c.table_schema = $1 AND c.table_name = $2
	ORDER BY c.ordinal_position;
	`

	rows, err := q.Query(ctx, columnsQuery, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	var columns []backend.ColumnInfo
	for rows.Next() {
		var col backend.ColumnInfo
		if err := rows.Scan(
			&col.Name,
			&col.DataType,
			&col.Nullable,
			&col.PrimaryKey,
		); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		columns = append(columns, col)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterating column rows: %w", rows.Err())
	}

	return columns, nil
}

func getForeignKeys(ctx context.Context, q querier, schemaName, table string) ([]backend.ForeignKeyInfo, error) {
	foreignKeysQuery := `
	SELECT
		kcu.column_name,
		ccu.table_name AS foreign_table_name,
		ccu.column_name AS foreign_column_name
	FROM information_schema.table_constraints AS tc
	JOIN information_schema.key_column_usage AS kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage AS ccu
		ON ccu.constraint_name = tc.constraint_name
		AND ccu.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema = $1
		AND tc.table_name = $2;
	`

	rows, err := q.Query(ctx, foreignKeysQuery, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("querying foreign keys: %w", err)
	}
	defer rows.Close()

	var foreignKeys []backend.ForeignKeyInfo
	for rows.Next() {
		var fk backend.ForeignKeyInfo
		if err := rows.Scan(
			&fk.Column,
			&fk.RefTable,
			&fk.RefColumn,
		); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		foreignKeys = append(foreignKeys, fk)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterating foreign key rows: %w", rows.Err())
	}

	return foreignKeys, nil
}

func triggerExists(ctx context.Context, q querier, schemaName, table, name string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `
	SELECT EXISTS (
		SELECT 1 FROM information_schema.triggers
		WHERE event_object_schema = $1 AND event_object_table = $2 AND trigger_name = $3
	)`, schemaName, table, name).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking trigger %s: %w", name, err)
	}
	return ok, nil
}
