package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultServerURL = "http://localhost:3000"
	defaultPageLimit = 20
)

// appDataPaths stores resolved locations for client-side state.
type appDataPaths struct {
	baseDir   string
	historyDB string
	envFile   string
}

// appConfig is the resolved client configuration. The user identity gates
// sending and the live channel; without it the session is unauthenticated.
type appConfig struct {
	serverURL             string
	liveURL               string
	userID                string
	requestedConversation string
}

func resolveDataPaths() (appDataPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return appDataPaths{}, fmt.Errorf("resolve home dir: %w", err)
	}
	base := filepath.Join(home, ".chatrelay")
	return appDataPaths{
		baseDir:   base,
		historyDB: filepath.Join(base, "history.db"),
		envFile:   filepath.Join(base, ".env"),
	}, nil
}

func loadConfig(paths appDataPaths) (appConfig, error) {
	// A missing .env is fine; env vars may be set directly.
	_ = godotenv.Load(paths.envFile)

	cfg := appConfig{
		serverURL:             strings.TrimRight(strings.TrimSpace(os.Getenv("CHATRELAY_SERVER_URL")), "/"),
		liveURL:               strings.TrimSpace(os.Getenv("CHATRELAY_LIVE_URL")),
		userID:                strings.TrimSpace(os.Getenv("CHATRELAY_USER")),
		requestedConversation: strings.TrimSpace(os.Getenv("CHATRELAY_CONVERSATION")),
	}
	if cfg.serverURL == "" {
		cfg.serverURL = defaultServerURL
	}
	if cfg.liveURL == "" {
		derived, err := deriveLiveURL(cfg.serverURL)
		if err != nil {
			return appConfig{}, err
		}
		cfg.liveURL = derived
	}
	return cfg, nil
}

// deriveLiveURL maps the HTTP server URL to its websocket endpoint. The user
// identity is appended per connection, not here.
func deriveLiveURL(serverURL string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server URL %q: %w", serverURL, err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	return parsed.String(), nil
}
