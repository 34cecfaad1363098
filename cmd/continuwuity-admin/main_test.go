// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/continuwuity/continuwuity-sub001/lib/codec"
	"github.com/continuwuity/continuwuity-sub001/lib/control"
	"github.com/continuwuity/continuwuity-sub001/lib/testutil"
)

// requests remembers the last request a fake action received.
type requests struct {
	mu   sync.Mutex
	last map[string]any
}

func (r *requests) record(t *testing.T, raw []byte) {
	var request map[string]any
	if err := codec.Unmarshal(raw, &request); err != nil {
		t.Errorf("decoding request: %v", err)
	}
	r.mu.Lock()
	r.last = request
	r.mu.Unlock()
}

func (r *requests) get(key string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[key]
}

// startServer serves a control socket whose actions return canned
// responses.
func startServer(t *testing.T) (string, *requests) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	server := control.NewServer(socketPath, nil)

	seen := &requests{}
	record := func(raw []byte) { seen.record(t, raw) }

	server.Handle(control.ActionReload, func(_ context.Context, raw []byte) (any, error) {
		record(raw)
		return control.ReloadResponse{
			Generation:  4,
			Previous:    3,
			Duration:    25 * time.Millisecond,
			LogMarkdown: "- `INFO` reload complete\n",
			LogHTML:     "<ul>\n<li><code>INFO</code> reload complete</li>\n</ul>\n",
		}, nil
	})
	server.Handle(control.ActionStatus, func(context.Context, []byte) (any, error) {
		return control.StatusResponse{
			Phase:  "draining",
			Active: 4,
			Generations: []control.GenerationStatus{
				{ID: 3, Live: 2, Superseded: true},
				{ID: 4, Live: 1},
			},
		}, nil
	})
	server.Handle(control.ActionTokenIssue, func(_ context.Context, raw []byte) (any, error) {
		record(raw)
		return control.TokenEntry{Token: "abc", Description: "`abc` --- created by admin"}, nil
	})
	server.Handle(control.ActionTokenRevoke, func(context.Context, []byte) (any, error) {
		return nil, errors.New(`"zzz" is not a valid registration token`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "control socket ready")
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "Serve return")
	})
	return socketPath, seen
}

func runAdmin(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := run(args, &stdout)
	return stdout.String(), err
}

func TestReloadCommand(t *testing.T) {
	socketPath, last := startServer(t)

	output, err := runAdmin(t, "--socket", socketPath, "reload", "--capture")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !strings.Contains(output, "generation 4 published (previous 3)") {
		t.Errorf("output = %q", output)
	}
	if !strings.Contains(output, "- `INFO` reload complete") {
		t.Errorf("output lacks the captured markdown: %q", output)
	}
	if capture := last.get("capture"); capture != true {
		t.Errorf("capture = %v, want true", capture)
	}

	output, err = runAdmin(t, "--socket", socketPath, "reload", "--html")
	if err != nil {
		t.Fatalf("reload --html: %v", err)
	}
	if !strings.Contains(output, "<li>") {
		t.Errorf("output lacks HTML: %q", output)
	}
}

func TestStatusCommand(t *testing.T) {
	socketPath, _ := startServer(t)

	output, err := runAdmin(t, "-s", socketPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"phase:         draining", "3\tdraining\tlive=2", "4\tactive\tlive=1"} {
		if !strings.Contains(output, want) {
			t.Errorf("output lacks %q:\n%s", want, output)
		}
	}
}

func TestTokenCommands(t *testing.T) {
	socketPath, last := startServer(t)

	output, err := runAdmin(t, "-s", socketPath, "token", "issue", "--max-uses", "2", "--creator", "admin")
	if err != nil {
		t.Fatalf("token issue: %v", err)
	}
	if !strings.Contains(output, "`abc`") {
		t.Errorf("output = %q", output)
	}
	if last.get("creator") != "admin" || last.get("max_uses") != uint64(2) {
		t.Errorf("creator = %v, max_uses = %v", last.get("creator"), last.get("max_uses"))
	}

	_, err = runAdmin(t, "-s", socketPath, "token", "revoke", "zzz")
	var actionErr *control.ActionError
	if !errors.As(err, &actionErr) || !strings.Contains(actionErr.Message, "not a valid registration token") {
		t.Errorf("token revoke = %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	socketPath, _ := startServer(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", []string{"-s", socketPath}},
		{"unknown command", []string{"-s", socketPath, "bogus"}},
		{"token without subcommand", []string{"-s", socketPath, "token"}},
		{"revoke without token", []string{"-s", socketPath, "token", "revoke"}},
		{"unknown action on server", []string{"-s", socketPath, "features"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := runAdmin(t, test.args...); err == nil {
				t.Error("run succeeded")
			}
		})
	}
}
