// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/continuwuity/continuwuity-sub001/lib/apierror"
	"github.com/continuwuity/continuwuity-sub001/lib/version"
)

// supportedVersions are the client-server spec versions advertised by
// /_matrix/client/versions.
var supportedVersions = []string{
	"r0.0.1", "r0.1.0", "r0.2.0", "r0.3.0", "r0.4.0", "r0.5.0", "r0.6.0", "r0.6.1",
	"v1.1", "v1.2", "v1.3", "v1.4", "v1.5", "v1.11",
}

var unstableFeatures = map[string]bool{
	"org.matrix.e2e_cross_signing":           true,
	"org.matrix.msc2285.stable":              true,
	"org.matrix.msc3916.stable":              true,
	"uk.half-shot.msc2666.query_mutual_rooms": true,
}

type handlers struct {
	state  State
	logger *slog.Logger
}

func (h *handlers) writeJSON(w http.ResponseWriter, value any) {
	apierror.WriteJSON(w, h.logger, http.StatusOK, value)
}

func (h *handlers) clientVersions(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, map[string]any{
		"versions":          supportedVersions,
		"unstable_features": unstableFeatures,
	})
}

func (h *handlers) wellKnownClient(w http.ResponseWriter, _ *http.Request) {
	baseURL := h.state.Graph.Globals.WellKnownClient
	if baseURL == "" {
		apierror.Write(w, h.logger, apierror.NotFound("Not found."))
		return
	}
	h.writeJSON(w, map[string]any{
		"m.homeserver": map[string]string{"base_url": baseURL},
	})
}

func (h *handlers) wellKnownServer(w http.ResponseWriter, _ *http.Request) {
	server := h.state.Graph.Globals.WellKnownServer
	if server == "" {
		apierror.Write(w, h.logger, apierror.NotFound("Not found."))
		return
	}
	h.writeJSON(w, map[string]string{"m.server": server})
}

func (h *handlers) federationVersion(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, map[string]any{
		"server": map[string]string{
			"name":    version.Name,
			"version": version.Server(),
		},
	})
}

func (h *handlers) serverVersion(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, map[string]string{
		"name":    version.Name,
		"version": version.Server(),
	})
}

func (h *handlers) registrationTokenValidity(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		apierror.Write(w, h.logger, apierror.MissingParam("token"))
		return
	}
	_, valid, err := h.state.Graph.RegistrationTokens.Validate(r.Context(), token)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "validating registration token", "error", err)
		apierror.Write(w, h.logger, apierror.Unknown("Failed to validate registration token."))
		return
	}
	h.writeJSON(w, map[string]bool{"valid": valid})
}

// generationInfo reports which generation served the request.
func (h *handlers) generationInfo(w http.ResponseWriter, _ *http.Request) {
	globals := h.state.Graph.Globals
	h.writeJSON(w, map[string]any{
		"generation":    h.state.Generation.ID(),
		"config_digest": globals.ConfigDigest,
		"built_at":      globals.BuiltAt.UTC().Format(time.RFC3339),
		"server_name":   globals.ServerName,
	})
}
