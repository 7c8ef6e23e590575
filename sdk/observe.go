package wit

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/dispatch"
	"github.com/vango-go/wit-lite/pkg/core/types"
	"github.com/vango-go/wit-lite/pkg/journal"
)

const journalTimeout = 5 * time.Second

func spanName(kind types.QueryKind) string {
	switch kind {
	case types.QueryText:
		return "wit.text_query"
	case types.QueryVoiceAuto:
		return "wit.voice_query_auto"
	default:
		return "wit.voice_query"
	}
}

func (c *Client) startSpan(ctx context.Context, kind types.QueryKind) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, spanName(kind),
		trace.WithAttributes(
			attribute.String("wit.backend", c.engine.Name()),
			attribute.String("wit.kind", kind.String()),
		),
	)
}

// finish records a completed query: span status, metrics, log line and
// journal entry. handle is empty for synchronous queries.
func (c *Client) finish(ctx context.Context, span trace.Span, kind types.QueryKind, start time.Time, resp *types.Response, err error) {
	latency := time.Since(start)

	handle, async := dispatch.HandleFromContext(ctx)
	if !async {
		handle = dispatch.NewHandle()
	}

	status := "ok"
	switch {
	case err != nil:
		status = string(core.TypeOf(err))
		if status == "" {
			status = string(core.ErrBackend)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case resp.IsEmpty():
		status = "empty"
	}
	span.SetAttributes(
		attribute.String("wit.status", status),
		attribute.Bool("wit.async", async),
	)
	span.End()

	c.metrics.RecordQuery(c.engine.Name(), kind, status, latency)
	if err != nil {
		c.logger.Warn("query failed", "kind", kind, "backend", c.engine.Name(), "handle", handle, "error", err, "latency", latency)
	} else {
		c.logger.Debug("query completed", "kind", kind, "backend", c.engine.Name(), "handle", handle, "status", status, "latency", latency)
	}

	if c.journal == nil {
		return
	}
	entry := journal.NewEntry(handle.String(), kind, c.engine.Name(), resp, err, latency)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		jctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.journal.Record(jctx, entry); err != nil {
			c.metrics.RecordJournalError()
			c.logger.Error("journal write failed", "handle", entry.Handle, "error", err)
		}
	}()
}

// countingReader reports every chunk read from the capture stream.
type countingReader struct {
	r      io.Reader
	onRead func(n int)
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 && cr.onRead != nil {
		cr.onRead(n)
	}
	return n, err
}
