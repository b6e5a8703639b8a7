package errors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for structured logging, surfacing
// Postgres driver details when present.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}

	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		d.Chain = append(d.Chain, cur.Error())

		var pgxErr *pgconn.PgError
		if errors.As(cur, &pgxErr) {
			d.PGCode = pgxErr.Code
			d.PGConstraint = pgxErr.ConstraintName
			d.PGTable = pgxErr.TableName
			d.PGColumn = pgxErr.ColumnName
			d.PGDetail = pgxErr.Detail
			d.PGMessage = pgxErr.Message
			continue
		}

		var pqErr *pq.Error
		if errors.As(cur, &pqErr) {
			d.PGCode = string(pqErr.Code)
			d.PGConstraint = pqErr.Constraint
			d.PGTable = pqErr.Table
			d.PGColumn = pqErr.Column
			d.PGDetail = pqErr.Detail
			d.PGMessage = pqErr.Message
		}
	}
	return d
}
