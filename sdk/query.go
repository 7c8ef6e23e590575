package wit

import (
	"context"
	"time"

	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/dispatch"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

// TextQuery sends text to the backend and blocks until it answers. A nil
// response with a nil error means the backend had no result.
func (c *Client) TextQuery(ctx context.Context, text, token string) (*types.Response, error) {
	release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := validateText(text, token); err != nil {
		return nil, err
	}
	return c.textQuery(ctx, text, token)
}

// TextQueryAsync validates its arguments, starts the query and returns its
// handle without waiting. cb is invoked exactly once with the result.
// Accepted callbacks: dispatch.Callback, func(dispatch.Result),
// func(*types.Response, error) and dispatch.MethodRef.
func (c *Client) TextQueryAsync(ctx context.Context, text, token string, cb any) (dispatch.Handle, error) {
	release, err := c.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	if err := validateText(text, token); err != nil {
		return "", err
	}
	callback, err := dispatch.Resolve(cb)
	if err != nil {
		return "", err
	}
	return c.dispatcher.Dispatch(context.WithoutCancel(ctx), types.QueryText, callback,
		func(wctx context.Context) (*types.Response, error) {
			return c.textQuery(wctx, text, token)
		})
}

func (c *Client) textQuery(ctx context.Context, text, token string) (*types.Response, error) {
	sctx, span := c.startSpan(ctx, types.QueryText)
	octx, cancel := c.opContext(sctx)
	defer cancel()

	start := time.Now()
	resp, err := c.engine.TextQuery(octx, text, token)
	c.finish(octx, span, types.QueryText, start, resp, err)
	return resp, err
}

func validateText(text, token string) error {
	if text == "" {
		return core.NewInvalidArgumentError("text must not be empty", "text")
	}
	return validateToken(token)
}

func validateToken(token string) error {
	if token == "" {
		return core.NewInvalidArgumentError("access token must not be empty", "token")
	}
	return nil
}
