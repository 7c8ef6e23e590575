package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/vango-go/wit-lite/pkg/core/dispatch"
	"github.com/vango-go/wit-lite/pkg/core/types"
)

type byteCounter struct{ n atomic.Int64 }

func (c *byteCounter) add(n int) { c.n.Add(int64(n)) }

func (c *byteCounter) load() int64 { return c.n.Load() }

func newTextCmd(a *app) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "text <utterance...>",
		Short: "Interpret a text utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd)
			if err != nil {
				return err
			}
			s, err := a.openSession(cfg, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			text := strings.Join(args, " ")
			if !async {
				resp, err := s.client.TextQuery(ctx, text, cfg.AccessToken)
				if err != nil {
					return err
				}
				return printResponse(a.stdout, resp)
			}

			results := make(chan dispatch.Result, 1)
			h, err := s.client.TextQueryAsync(ctx, text, cfg.AccessToken, func(r dispatch.Result) { results <- r })
			if err != nil {
				return err
			}
			s.logger.Info("text query dispatched", "handle", h)
			return awaitResult(ctx, a.stdout, results)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "dispatch the query and wait for its callback")
	return cmd
}

func newVoiceCmd(a *app) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Record until Enter is pressed, then interpret the recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd)
			if err != nil {
				return err
			}
			s, err := a.openSession(cfg, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.client.VoiceQueryStart(ctx, cfg.AccessToken); err != nil {
				return err
			}
			fmt.Fprintln(a.stderr, "listening; press Enter to stop")
			if err := waitForEnter(ctx, a.deps.stdin); err != nil {
				return err
			}

			if !async {
				resp, err := s.client.VoiceQueryStop(ctx)
				if err != nil {
					return err
				}
				s.logger.Debug("voice query done", "uploaded_bytes", s.uploaded.load())
				return printResponse(a.stdout, resp)
			}

			results := make(chan dispatch.Result, 1)
			h, err := s.client.VoiceQueryStopAsync(ctx, func(r dispatch.Result) { results <- r })
			if err != nil {
				return err
			}
			s.logger.Info("voice query dispatched", "handle", h)
			return awaitResult(ctx, a.stdout, results)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "finish the query in the background and wait for its callback")
	return cmd
}

func newAutoCmd(a *app) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Record until the speaker stops, then interpret the recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd)
			if err != nil {
				return err
			}
			s, err := a.openSession(cfg, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			fmt.Fprintln(a.stderr, "listening")
			if !async {
				resp, err := s.client.VoiceQueryAuto(ctx, cfg.AccessToken)
				if err != nil {
					return err
				}
				s.logger.Debug("voice query done", "uploaded_bytes", s.uploaded.load())
				return printResponse(a.stdout, resp)
			}

			results := make(chan dispatch.Result, 1)
			h, err := s.client.VoiceQueryAutoAsync(ctx, cfg.AccessToken, func(r dispatch.Result) { results <- r })
			if err != nil {
				return err
			}
			s.logger.Info("voice query dispatched", "handle", h)
			return awaitResult(ctx, a.stdout, results)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "run the query in the background and wait for its callback")
	return cmd
}

func waitForEnter(ctx context.Context, in io.Reader) error {
	if in == nil {
		return errors.New("no input to wait on")
	}
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitResult(ctx context.Context, w io.Writer, results <-chan dispatch.Result) error {
	select {
	case r := <-results:
		if r.Err != nil {
			return r.Err
		}
		return printResponse(w, r.Response)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// printResponse writes the payload, indented when it is JSON. An empty
// result prints nothing.
func printResponse(w io.Writer, resp *types.Response) error {
	if resp.IsEmpty() {
		return nil
	}
	var v any
	if err := resp.Decode(&v); err != nil {
		_, err := fmt.Fprintln(w, resp.String())
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
