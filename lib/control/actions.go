// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/continuwuity/continuwuity-sub001/lib/capture"
	"github.com/continuwuity/continuwuity-sub001/lib/codec"
	"github.com/continuwuity/continuwuity-sub001/lib/features"
	"github.com/continuwuity/continuwuity-sub001/lib/generation"
	"github.com/continuwuity/continuwuity-sub001/lib/reload"
	"github.com/continuwuity/continuwuity-sub001/lib/services"
	"github.com/continuwuity/continuwuity-sub001/lib/version"
)

// Action names.
const (
	ActionReload      = "reload"
	ActionStatus      = "status"
	ActionFeatures    = "features"
	ActionTokenIssue  = "token-issue"
	ActionTokenRevoke = "token-revoke"
	ActionTokenList   = "token-list"
)

// Reloader is the part of the reload controller the actions use.
type Reloader interface {
	Trigger(ctx context.Context) (reload.Result, error)
	Status() reload.Status
	Acquire() (*generation.Guard[*services.Services], error)
	AcquireGeneration(id uint64) (*generation.Guard[*services.Services], error)
}

// ReloadRequest is the body of a reload action.
type ReloadRequest struct {
	// Capture returns the log records emitted during the reload.
	Capture bool `cbor:"capture"`
}

// ReloadResponse reports a successful reload.
type ReloadResponse struct {
	Generation   uint64        `cbor:"generation"`
	Previous     uint64        `cbor:"previous"`
	Duration     time.Duration `cbor:"duration"`
	ConfigDigest string        `cbor:"config_digest"`

	// LogMarkdown and LogHTML hold the captured records when the
	// request asked for them.
	LogMarkdown string `cbor:"log_markdown,omitempty"`
	LogHTML     string `cbor:"log_html,omitempty"`
}

// GenerationStatus describes one generation that has not been torn
// down.
type GenerationStatus struct {
	ID         uint64    `cbor:"id"`
	Live       int64     `cbor:"live"`
	Superseded bool      `cbor:"superseded"`
	CreatedAt  time.Time `cbor:"created_at"`
}

// StatusResponse is the result of the status action.
type StatusResponse struct {
	Version      string             `cbor:"version"`
	Phase        string             `cbor:"phase"`
	Active       uint64             `cbor:"active"`
	ServerName   string             `cbor:"server_name,omitempty"`
	ConfigDigest string             `cbor:"config_digest,omitempty"`
	Generations  []GenerationStatus `cbor:"generations"`
}

// TokenIssueRequest is the body of a token-issue action.
type TokenIssueRequest struct {
	Creator   string    `cbor:"creator"`
	MaxUses   uint64    `cbor:"max_uses"`
	ExpiresAt time.Time `cbor:"expires_at"`
}

// TokenRevokeRequest is the body of a token-revoke action.
type TokenRevokeRequest struct {
	Token string `cbor:"token"`
}

// TokenEntry describes one registration token.
type TokenEntry struct {
	Token       string    `cbor:"token"`
	Source      string    `cbor:"source"`
	Creator     string    `cbor:"creator,omitempty"`
	Uses        uint64    `cbor:"uses"`
	MaxUses     uint64    `cbor:"max_uses"`
	ExpiresAt   time.Time `cbor:"expires_at"`
	Description string    `cbor:"description"`
}

func tokenEntry(token services.ValidToken) TokenEntry {
	return TokenEntry{
		Token:       token.Token,
		Source:      token.Source.String(),
		Creator:     token.Info.Creator,
		Uses:        token.Info.Uses,
		MaxUses:     token.Info.MaxUses,
		ExpiresAt:   token.Info.Expires,
		Description: token.String(),
	}
}

// Deps are the collaborators of the built-in actions.
type Deps struct {
	Reloader Reloader
	Captures *capture.Registry
	Features *features.Registry
	Logger   *slog.Logger
}

// Register installs every built-in action on server.
func Register(server *Server, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	a := &actions{Deps: deps}
	server.Handle(ActionReload, a.reload)
	server.Handle(ActionStatus, a.status)
	server.Handle(ActionFeatures, a.features)
	server.Handle(ActionTokenIssue, a.tokenIssue)
	server.Handle(ActionTokenRevoke, a.tokenRevoke)
	server.Handle(ActionTokenList, a.tokenList)
}

type actions struct {
	Deps
	captureSequence atomic.Uint64
}

// withGraph runs fn against the active generation's graph, holding a
// guard so the graph cannot be torn down underneath it.
func (a *actions) withGraph(fn func(*services.Services) error) error {
	guard, err := a.Reloader.Acquire()
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn(guard.State().Graph)
}

func (a *actions) reload(ctx context.Context, raw []byte) (any, error) {
	var request ReloadRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid reload request: %w", err)
	}

	var buffer *capture.Buffer
	if request.Capture && a.Captures != nil {
		tag := fmt.Sprintf("control-reload-%d", a.captureSequence.Add(1))
		ctx = capture.WithTag(ctx, tag)
		buffer = &capture.Buffer{}
		stop := a.Captures.Start(capture.New(capture.Tagged(tag), buffer.Append))
		defer stop()
	}

	a.Logger.InfoContext(ctx, "reload requested over control socket")
	result, err := a.Reloader.Trigger(ctx)
	if err != nil {
		return nil, err
	}

	response := ReloadResponse{
		Generation: result.Generation,
		Previous:   result.Previous,
		Duration:   result.Duration,
	}
	// A concurrent reload may already have superseded and drained
	// the generation this one published; the digest is then omitted.
	if guard, err := a.Reloader.AcquireGeneration(result.Generation); err == nil {
		response.ConfigDigest = guard.State().Graph.Globals.ConfigDigest
		guard.Release()
	}

	if buffer != nil {
		response.LogMarkdown = buffer.Markdown()
		html, err := buffer.HTML()
		if err != nil {
			return nil, fmt.Errorf("rendering captured log: %w", err)
		}
		response.LogHTML = html
	}
	return response, nil
}

func (a *actions) status(context.Context, []byte) (any, error) {
	status := a.Reloader.Status()
	response := StatusResponse{
		Version:     version.Server(),
		Phase:       status.Phase.String(),
		Active:      status.Active,
		Generations: make([]GenerationStatus, 0, len(status.Generations)),
	}
	for _, info := range status.Generations {
		response.Generations = append(response.Generations, GenerationStatus{
			ID:         info.ID,
			Live:       info.Live,
			Superseded: info.Superseded,
			CreatedAt:  info.CreatedAt,
		})
	}
	err := a.withGraph(func(graph *services.Services) error {
		response.ServerName = graph.Globals.ServerName
		response.ConfigDigest = graph.Globals.ConfigDigest
		return nil
	})
	if err != nil && !errors.Is(err, reload.ErrNotPublished) && !errors.Is(err, reload.ErrClosed) {
		return nil, err
	}
	return response, nil
}

func (a *actions) features(context.Context, []byte) (any, error) {
	if a.Features == nil {
		return map[string][]string{}, nil
	}
	return a.Features.Snapshot(), nil
}

func (a *actions) tokenIssue(ctx context.Context, raw []byte) (any, error) {
	var request TokenIssueRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid token-issue request: %w", err)
	}
	if request.Creator == "" {
		request.Creator = "control socket"
	}

	var entry TokenEntry
	err := a.withGraph(func(graph *services.Services) error {
		token, err := graph.RegistrationTokens.Issue(ctx, request.Creator, services.Expiry{
			MaxUses:   request.MaxUses,
			ExpiresAt: request.ExpiresAt,
		})
		if err != nil {
			return err
		}
		entry = tokenEntry(token)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (a *actions) tokenRevoke(ctx context.Context, raw []byte) (any, error) {
	var request TokenRevokeRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid token-revoke request: %w", err)
	}
	if request.Token == "" {
		return nil, errors.New("missing required field: token")
	}

	return nil, a.withGraph(func(graph *services.Services) error {
		token, valid, err := graph.RegistrationTokens.Validate(ctx, request.Token)
		if err != nil {
			return err
		}
		if !valid {
			return fmt.Errorf("%q is not a valid registration token", request.Token)
		}
		return graph.RegistrationTokens.Revoke(ctx, token)
	})
}

func (a *actions) tokenList(ctx context.Context, _ []byte) (any, error) {
	var entries []TokenEntry
	err := a.withGraph(func(graph *services.Services) error {
		tokens, err := graph.RegistrationTokens.List(ctx)
		if err != nil {
			return err
		}
		entries = make([]TokenEntry, 0, len(tokens))
		for _, token := range tokens {
			entries = append(entries, tokenEntry(token))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
