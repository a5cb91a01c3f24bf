package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the fields required for the given mode are set and
// within bounds. Modes correspond to the top-level commands: "update",
// "heal" and "serve". All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	add := func(msg string) { problems = append(problems, msg) }

	switch c.Store.Backend {
	case "memory", "sqlite", "postgres":
	default:
		add("store.backend must be one of memory, sqlite, postgres")
	}
	if c.Store.Backend == "postgres" && c.Store.DatabaseURL == "" {
		add("store.database_url is required for the postgres backend")
	}
	if c.Fetch.TimeoutSecs <= 0 {
		add("fetch.timeout_secs must be > 0")
	}
	if c.Fetch.MaxRetries < 1 || c.Fetch.MaxRetries > 10 {
		add("fetch.max_retries must be between 1 and 10")
	}

	switch mode {
	case "update":
		// Fallback runs best-effort, so a missing AI key is fine here.
	case "heal":
		if c.AI.Key == "" {
			add("ai.key is required")
		}
		if c.Heal.MinQuotes < 1 {
			add("heal.min_quotes must be >= 1")
		}
		if c.Heal.PipelineCooldownMins < 0 {
			add("heal.pipeline_cooldown_mins must be >= 0")
		}
		if c.GitHub.Token != "" && (c.GitHub.Owner == "" || c.GitHub.Repo == "") {
			add("github.owner and github.repo are required when github.token is set")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
