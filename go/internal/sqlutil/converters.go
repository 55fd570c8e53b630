// Package sqlutil holds the column converters and transaction helper shared
// by the Postgres adapter.
package sqlutil

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// NullInt maps an optional int onto a nullable integer column.
func NullInt(val *int) sql.NullInt32 {
	if val == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*val), Valid: true}
}

// NullUUID maps an optional id onto a nullable uuid column.
func NullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// ToJSON marshals val for a nullable jsonb column. Values that encode as
// JSON null (nil slices, maps, pointers) become SQL NULL.
func ToJSON(val any) (pqtype.NullRawMessage, error) {
	raw, err := json.Marshal(val)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("failed to marshal json column: %w", err)
	}
	if string(raw) == "null" {
		return pqtype.NullRawMessage{}, nil
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}
