package executor

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-brasil/sqlrt/internal/mapping"
	"github.com/joao-brasil/sqlrt/internal/metrics"
)

var tracer = otel.Tracer("github.com/joao-brasil/sqlrt/internal/executor")

// SimpleExecutor runs every statement directly on the transaction's
// connection.
type SimpleExecutor struct {
	*BaseExecutor
	tx *Transaction
}

// NewSimpleExecutor creates an executor over tx.
func NewSimpleExecutor(tx *Transaction, opts ...Option) *SimpleExecutor {
	s := &SimpleExecutor{tx: tx}
	s.BaseExecutor = newBaseExecutor(s, opts...)
	return s
}

// Transaction returns the executor's transaction.
func (s *SimpleExecutor) Transaction() *Transaction { return s.tx }

func (s *SimpleExecutor) doQuery(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	window mapping.ResultWindow, handler mapping.RowHandler, bound *mapping.BoundSQL) ([]any, error) {
	ctx, span := s.startSpan(ctx, ms)
	defer span.End()

	rows, err := s.fetchRows(ctx, ms, params, bound, window)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	mapper := ms.RowMapper
	if mapper == nil {
		mapper = mapping.ColumnMapper{}
	}

	var list []any
	if handler == nil {
		list = make([]any, 0, len(rows))
	}
	for _, row := range rows {
		obj, err := mapper.MapRow(ctx, s.Wrapper(), row)
		if err != nil {
			err = errors.Wrapf(err, "mapping row of %s", ms.ID)
			recordError(span, err)
			return nil, err
		}
		if handler != nil {
			if err := handler(obj); err != nil {
				return nil, errors.Wrapf(err, "handling row of %s", ms.ID)
			}
			continue
		}
		list = append(list, obj)
	}
	span.SetAttributes(attribute.Int("db.rows", len(rows)))
	return list, nil
}

// fetchRows runs the query and scans the rows inside window before any
// nested query can use the connection.
func (s *SimpleExecutor) fetchRows(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	bound *mapping.BoundSQL, window mapping.ResultWindow) ([]map[string]any, error) {
	conn, err := s.tx.Connection(ctx)
	if err != nil {
		return nil, err
	}
	defer s.tx.statementDone()

	query, args, outs := s.prepare(ms, bound)
	start := time.Now()
	rs, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, statementError(ms, err)
	}
	defer rs.Close()

	var rows []map[string]any
	skipped := 0
	for rs.Next() {
		if skipped < window.Offset {
			skipped++
			continue
		}
		if window.Limit > 0 && len(rows) >= window.Limit {
			break
		}
		row := make(map[string]any)
		if err := sqlx.MapScan(rs, row); err != nil {
			return nil, statementError(ms, err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, statementError(ms, err)
	}
	if err := rs.Close(); err != nil {
		return nil, statementError(ms, err)
	}
	metrics.QueryDuration.WithLabelValues(ms.Kind.String()).Observe(time.Since(start).Seconds())
	copyOutputs(params, outs)
	return rows, nil
}

func (s *SimpleExecutor) doUpdate(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	bound *mapping.BoundSQL) (int64, error) {
	ctx, span := s.startSpan(ctx, ms)
	defer span.End()

	conn, err := s.tx.Connection(ctx)
	if err != nil {
		recordError(span, err)
		return 0, err
	}
	defer s.tx.statementDone()

	query, args, outs := s.prepare(ms, bound)
	start := time.Now()
	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		err = statementError(ms, err)
		recordError(span, err)
		return 0, err
	}
	metrics.QueryDuration.WithLabelValues(ms.Kind.String()).Observe(time.Since(start).Seconds())
	copyOutputs(params, outs)

	if ms.KeyProperty != "" && ms.Kind == mapping.KindInsert && params != nil {
		if id, err := res.LastInsertId(); err == nil {
			params[ms.KeyProperty] = id
		}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, statementError(ms, err)
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", n))
	return n, nil
}

type outputParam struct {
	property string
	dest     *any
}

// prepare rebinds placeholders for the driver and builds the argument list.
// Callable statements pass every parameter by name, with sql.Out for OUT and
// INOUT parameters.
func (s *SimpleExecutor) prepare(ms *mapping.MappedStatement, bound *mapping.BoundSQL) (string, []any, []outputParam) {
	args := make([]any, 0, len(bound.ParameterMappings))
	if ms.StatementType != mapping.Callable {
		for _, pm := range bound.ParameterMappings {
			args = append(args, bound.Value(pm.Property))
		}
		return sqlx.Rebind(sqlx.BindType(s.tx.Driver()), bound.SQL), args, nil
	}

	var outs []outputParam
	for _, pm := range bound.ParameterMappings {
		switch pm.Mode {
		case mapping.ModeIn:
			args = append(args, sql.Named(pm.Property, bound.Value(pm.Property)))
		default:
			dest := new(any)
			*dest = bound.Value(pm.Property)
			args = append(args, sql.Named(pm.Property, sql.Out{Dest: dest, In: pm.Mode == mapping.ModeInOut}))
			outs = append(outs, outputParam{property: pm.Property, dest: dest})
		}
	}
	return bound.SQL, args, outs
}

func copyOutputs(params map[string]any, outs []outputParam) {
	if params == nil {
		return
	}
	for _, o := range outs {
		v := *o.dest
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		params[o.property] = v
	}
}

func (s *SimpleExecutor) commit() error   { return s.tx.Commit() }
func (s *SimpleExecutor) rollback() error { return s.tx.Rollback() }
func (s *SimpleExecutor) close() error    { return s.tx.Close() }

func (s *SimpleExecutor) startSpan(ctx context.Context, ms *mapping.MappedStatement) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlrt."+ms.Kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.statement.id", ms.ID),
			attribute.String("db.system", s.tx.Driver()),
		))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// statementError marks a database error so callers can tell it from a
// failure to obtain a connection.
func statementError(ms *mapping.MappedStatement, err error) error {
	metrics.ConnectionErrors.WithLabelValues(ms.DataSourceID, "statement").Inc()
	return errors.Mark(errors.Wrapf(err, "executing %s", ms.ID), ErrStatementFailed)
}
