// Package backends builds a core.Backend from configuration.
package backends

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vango-go/wit-lite/pkg/config"
	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/backends/gemini"
	"github.com/vango-go/wit-lite/pkg/core/backends/relay"
	"github.com/vango-go/wit-lite/pkg/core/backends/witai"
)

// Factory creates backends. Zero value is usable.
type Factory struct {
	// HTTPClient is shared by HTTP backends. When nil, one is built from the
	// configured connect timeout.
	HTTPClient *http.Client

	// OnAudio, if set, observes every uploaded audio chunk size.
	OnAudio func(n int)
}

// Registry builds every known backend from cfg and registers it by name.
func (f Factory) Registry(cfg config.Config) core.BackendRegistry {
	reg := core.NewBackendRegistry()

	witOpts := []witai.Option{
		witai.WithBaseURL(cfg.WitBaseURL),
		witai.WithHTTPClient(f.httpClient(cfg)),
	}
	if cfg.WitAPIVersion != "" {
		witOpts = append(witOpts, witai.WithAPIVersion(cfg.WitAPIVersion))
	}
	if f.OnAudio != nil {
		witOpts = append(witOpts, witai.WithAudioObserver(f.OnAudio))
	}
	reg.Register(witai.New(witOpts...))

	relayOpts := []relay.Option{
		relay.WithDialer(&websocket.Dialer{
			HandshakeTimeout: cfg.BackendConnectTimeout,
			Proxy:            http.ProxyFromEnvironment,
		}),
	}
	if f.OnAudio != nil {
		relayOpts = append(relayOpts, relay.WithAudioObserver(f.OnAudio))
	}
	reg.Register(relay.New(cfg.RelayURL, relayOpts...))

	geminiOpts := []gemini.Option{gemini.WithHTTPClient(f.httpClient(cfg))}
	if cfg.GeminiModel != "" {
		geminiOpts = append(geminiOpts, gemini.WithModel(cfg.GeminiModel))
	}
	if len(cfg.GeminiIntents) > 0 {
		geminiOpts = append(geminiOpts, gemini.WithIntents(cfg.GeminiIntents...))
	}
	reg.Register(gemini.New(geminiOpts...))

	return reg
}

// New returns the backend named by cfg.Backend. An empty name selects witai.
func (f Factory) New(cfg config.Config) (core.Backend, error) {
	name := cfg.Backend
	if name == "" {
		name = config.BackendWitAI
	}
	if name == config.BackendRelay && cfg.RelayURL == "" {
		return nil, fmt.Errorf("relay backend requires a relay url")
	}

	reg := f.Registry(cfg)
	b, ok := reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %s)", name, strings.Join(reg.List(), ", "))
	}
	return b, nil
}

// Names lists the backends New can build, sorted.
func Names() []string {
	return Factory{}.Registry(config.Config{}).List()
}

func (f Factory) httpClient(cfg config.Config) *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	timeout := cfg.BackendConnectTimeout
	// No Client.Timeout: voice uploads last as long as the speaker does.
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: 0,
			MaxIdleConnsPerHost:   8,
		},
	}
}
