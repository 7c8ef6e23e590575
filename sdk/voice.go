package wit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/audio"
	"github.com/vango-go/wit-lite/pkg/core/dispatch"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

// voiceQuery is the single voice query a client may have in flight.
type voiceQuery struct {
	kind   types.QueryKind
	stream audio.Stream
	format types.AudioFormat
	start  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	// claimed is set once a stopper (or the auto path) owns completion.
	claimed bool

	done chan struct{}
	resp *types.Response
	err  error
}

// VoiceQueryStart opens the capture device and starts streaming audio to the
// backend. It returns once capture is running; the result is collected by
// VoiceQueryStop or VoiceQueryStopAsync.
func (c *Client) VoiceQueryStart(ctx context.Context, token string) error {
	release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := validateToken(token); err != nil {
		return err
	}
	v, err := c.beginVoice(context.WithoutCancel(ctx), types.QueryVoice)
	if err != nil {
		return err
	}

	c.ops.Add(1)
	go func() {
		defer c.ops.Done()
		c.runVoice(v, token)
	}()
	return nil
}

// VoiceQueryStop ends audio input for the voice query started by
// VoiceQueryStart and blocks until the backend answers.
func (c *Client) VoiceQueryStop(ctx context.Context) (*types.Response, error) {
	release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := c.claimVoice()
	if err != nil {
		return nil, err
	}
	return c.stopVoice(ctx, v)
}

// VoiceQueryStopAsync ends audio input like VoiceQueryStop but delivers the
// result to cb.
func (c *Client) VoiceQueryStopAsync(ctx context.Context, cb any) (dispatch.Handle, error) {
	release, err := c.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	callback, err := dispatch.Resolve(cb)
	if err != nil {
		return "", err
	}
	v, err := c.claimVoice()
	if err != nil {
		return "", err
	}
	h, err := c.dispatcher.Dispatch(context.WithoutCancel(ctx), types.QueryVoice, callback,
		func(wctx context.Context) (*types.Response, error) {
			return c.stopVoice(wctx, v)
		})
	if err != nil {
		c.voiceMu.Lock()
		v.claimed = false
		c.voiceMu.Unlock()
		return "", err
	}
	return h, nil
}

// VoiceQueryAuto captures until silence follows speech (or the duration cap
// is hit) and blocks until the backend answers.
func (c *Client) VoiceQueryAuto(ctx context.Context, token string) (*types.Response, error) {
	release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := validateToken(token); err != nil {
		return nil, err
	}
	v, err := c.beginVoice(ctx, types.QueryVoiceAuto)
	if err != nil {
		return nil, err
	}
	return c.runAuto(v.ctx, v, token)
}

// VoiceQueryAutoAsync starts an auto-endpointed voice query and delivers the
// result to cb. Capture starts before it returns.
func (c *Client) VoiceQueryAutoAsync(ctx context.Context, token string, cb any) (dispatch.Handle, error) {
	release, err := c.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	if err := validateToken(token); err != nil {
		return "", err
	}
	callback, err := dispatch.Resolve(cb)
	if err != nil {
		return "", err
	}
	base := context.WithoutCancel(ctx)
	v, err := c.beginVoice(base, types.QueryVoiceAuto)
	if err != nil {
		return "", err
	}
	h, err := c.dispatcher.Dispatch(base, types.QueryVoiceAuto, callback,
		func(wctx context.Context) (*types.Response, error) {
			return c.runAuto(wctx, v, token)
		})
	if err != nil {
		v.err = err
		close(v.done)
		c.endVoice(v.ctx, v)
		return "", err
	}
	return h, nil
}

// beginVoice takes the voice slot and opens a capture stream.
func (c *Client) beginVoice(parent context.Context, kind types.QueryKind) (*voiceQuery, error) {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	if c.voice != nil {
		return nil, core.NewQueryInProgressError()
	}

	sctx, span := c.startSpan(parent, kind)
	octx, cancel := c.opContext(sctx)

	stream, err := c.source.Open(octx)
	if err != nil {
		cancel()
		err = core.NewBackendError("capture", fmt.Errorf("open audio source: %w", err))
		span.RecordError(err)
		span.End()
		return nil, err
	}

	format := c.source.Format()
	if kind == types.QueryVoiceAuto {
		ep := audio.NewEndpointer(stream, format, c.endpoint)
		ep.OnEndpoint(func(r audio.EndpointReason) {
			c.metrics.RecordEndpoint(r.String())
			c.logger.Debug("end of speech", "reason", r)
		})
		stream = ep
	}

	v := &voiceQuery{
		kind:    kind,
		stream:  stream,
		format:  format,
		start:   time.Now(),
		ctx:     octx,
		cancel:  cancel,
		span:    span,
		claimed: kind == types.QueryVoiceAuto,
		done:    make(chan struct{}),
	}
	c.voice = v
	c.logger.Debug("capture started", "kind", kind, "device", c.device, "format", format.ContentType())
	return v, nil
}

// runVoice streams captured audio to the backend until the stream ends.
func (c *Client) runVoice(v *voiceQuery, token string) {
	defer close(v.done)
	r := &countingReader{r: v.stream, onRead: c.metrics.RecordCaptureBytes}
	v.resp, v.err = c.engine.VoiceQuery(v.ctx, r, v.format, token)
}

func (c *Client) runAuto(hctx context.Context, v *voiceQuery, token string) (*types.Response, error) {
	c.runVoice(v, token)
	c.endVoice(hctx, v)
	return v.resp, v.err
}

// claimVoice hands the running start/stop query to exactly one stopper.
func (c *Client) claimVoice() (*voiceQuery, error) {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	v := c.voice
	if v == nil || v.claimed {
		return nil, core.NewInvalidArgumentError("no voice query in progress", "voice")
	}
	v.claimed = true
	return v, nil
}

func (c *Client) stopVoice(ctx context.Context, v *voiceQuery) (*types.Response, error) {
	v.stream.Stop()
	select {
	case <-v.done:
	case <-ctx.Done():
		v.cancel()
		<-v.done
	}
	c.endVoice(ctx, v)
	return v.resp, v.err
}

// endVoice releases the device and the slot and records the result. hctx
// carries the dispatch handle for async completions.
func (c *Client) endVoice(hctx context.Context, v *voiceQuery) {
	v.cancel()
	if err := v.stream.Close(); err != nil {
		c.logger.Warn("closing capture stream", "error", err)
	}
	c.voiceMu.Lock()
	if c.voice == v {
		c.voice = nil
	}
	c.voiceMu.Unlock()
	c.finish(hctx, v.span, v.kind, v.start, v.resp, v.err)
}

// abortVoice cancels the voice query in flight, if any.
func (c *Client) abortVoice() {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	if v := c.voice; v != nil {
		v.cancel()
		v.stream.Stop()
	}
}

// releaseVoice finishes a started query nobody stopped. It runs after all
// operations have returned.
func (c *Client) releaseVoice() {
	c.voiceMu.Lock()
	v := c.voice
	if v == nil || v.claimed {
		c.voiceMu.Unlock()
		return
	}
	v.claimed = true
	c.voiceMu.Unlock()

	<-v.done
	c.endVoice(v.ctx, v)
}
