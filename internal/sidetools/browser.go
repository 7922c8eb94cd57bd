// Package sidetools implements orchestrator.SideTools: the tool calls
// that are neither exec nor node.invoke (spec §4.I's "browser, snapshot,
// memory" side tools). Only browser.fetch is implemented; snapshot and
// memory have no grounding source in the retrieved pack.
package sidetools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clawdbot/gateway/internal/ssrfguard"
)

// Browser is a SideTools implementation exposing a single tool,
// "browser.fetch", that GETs a URL after checking its hostname with
// ssrfguard — the gateway process is the one place in this codebase
// that ever makes an outbound HTTP call on an LLM's behalf, so it's the
// one place spec §4.B's guard needs to run.
type Browser struct {
	Client   *http.Client
	MaxBytes int64

	// Resolver overrides ssrfguard's hostname check, e.g. so tests can
	// point at an httptest server's loopback address without it being
	// rejected as private. Defaults to ssrfguard.DefaultResolver.
	Resolver ssrfguard.Resolver
}

// NewBrowser builds a Browser with the OpenAIProvider-style bounded
// client (a fixed request timeout, no retry/backoff) and a sane default
// response cap.
func NewBrowser() *Browser {
	return &Browser{
		Client:   &http.Client{Timeout: 20 * time.Second},
		MaxBytes: 512 * 1024,
		Resolver: ssrfguard.DefaultResolver,
	}
}

// RunSideTool implements orchestrator.SideTools.
func (b *Browser) RunSideTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "browser.fetch":
		return b.fetch(ctx, args)
	default:
		return "", fmt.Errorf("sidetools: unknown side tool %q", name)
	}
}

func (b *Browser) fetch(ctx context.Context, args map[string]any) (string, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return "", fmt.Errorf("sidetools: browser.fetch requires a url argument")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("sidetools: invalid url %q: %w", rawURL, err)
	}

	if err := ssrfguard.AssertPublicHostname(ctx, req.URL.Hostname(), b.Resolver); err != nil {
		return "", fmt.Errorf("sidetools: %w", err)
	}

	resp, err := b.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sidetools: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.MaxBytes))
	if err != nil {
		return "", fmt.Errorf("sidetools: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("sidetools: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return string(body), nil
}
