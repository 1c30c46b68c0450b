package obs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDescribeSQL(t *testing.T) {
	cases := map[string][2]string{
		"SELECT id, amount::text FROM orders WHERE id = $1":         {"SELECT", "orders"},
		"\n INSERT INTO order_meta (order_id, key) VALUES ($1, $2)": {"INSERT", "order_meta"},
		"UPDATE orders SET payment_status = $2":                     {"UPDATE", "orders"},
		"delete from domain_events":                                 {"DELETE", "domain_events"},
		"SELECT 1":                                                  {"SELECT", ""},
		"":                                                          {"QUERY", ""},
	}
	for sql, want := range cases {
		op, table := describeSQL(sql)
		require.Equal(t, want[0], op, sql)
		require.Equal(t, want[1], table, sql)
	}
}

func TestPGXTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var tracer PGXTracer
	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "UPDATE orders SET transaction_id = $2 WHERE id = $1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 1")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT " + strings.Repeat("x,", 400) + "1 FROM orders"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "UPDATE orders", spans[0].Name())
	require.Equal(t, "SELECT orders", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	for _, attr := range spans[1].Attributes() {
		if attr.Key == "db.statement" {
			require.LessOrEqual(t, len(attr.Value.AsString()), maxStatementLen+3)
		}
	}
}
