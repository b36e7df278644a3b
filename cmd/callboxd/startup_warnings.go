package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/veldt-labs/callbox/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: CALLBOX_AUTH_MODE=none disables authentication, anyone can read any mailbox",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: CALLBOX_ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MailboxBackend == config.MailboxBackendMemory {
		logger.Warn("startup warning: memory mailbox backend while --mode=prod (queued signals are lost on restart and not shared across replicas)",
			"warning_code", "memory_mailbox_in_prod",
			"mailbox_backend", cfg.MailboxBackend,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.HistoryBackend == config.HistoryBackendMemory {
		logger.Warn("startup warning: memory history backend while --mode=prod (call history is lost on restart)",
			"warning_code", "memory_history_in_prod",
			"history_backend", cfg.HistoryBackend,
			"mode", cfg.Mode,
		)
	}

	if cfg.MailboxTTL > time.Hour {
		logger.Warn("startup warning: CALLBOX_MAILBOX_TTL is very large (stale offers and candidates linger; increases per-identity memory exposure)",
			"warning_code", "mailbox_ttl_large",
			"mailbox_ttl", cfg.MailboxTTL,
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNRESTSharedSecret == "" && containsTURNURL(cfg.ICEServerURLs) {
		logger.Warn("startup warning: TURN servers configured without CALLBOX_TURN_REST_SHARED_SECRET (clients get no relay credentials; calls across NATs may fail)",
			"warning_code", "turn_without_rest_secret",
			"ice_server_urls", cfg.ICEServerURLs,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}

func containsTURNURL(urls []string) bool {
	for _, u := range urls {
		trimmed := strings.TrimSpace(u)
		if strings.HasPrefix(trimmed, "turn:") || strings.HasPrefix(trimmed, "turns:") {
			return true
		}
	}
	return false
}
