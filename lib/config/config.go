package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime knob, read once from the environment at startup
// and passed explicitly to the components that need it.
type Config struct {
	// HTTP server
	Listen           string
	TrustProxy       bool
	AllowedHostnames string

	// Twitch EventSub
	TwitchClientID      string
	TwitchClientSecret  string
	TwitchWebhookSecret string
	TwitchBroadcasterID string
	RewardTitle         string
	WebhookCallbackURL  string

	// Spotify
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyRedirectURL  string

	// Storage
	RedisURL string
	DataDir  string

	// Queue model
	ResetHour     int
	ResetTimezone string
	PollInterval  time.Duration

	// Leaderboard
	LeaderboardURL string
}

// Load reads the environment (after a best-effort .env load) into a Config.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	return &Config{
		Listen:           envDefault("LISTEN", "0.0.0.0:8000"),
		TrustProxy:       envBool("TRUST_PROXY", true),
		AllowedHostnames: strings.TrimSpace(os.Getenv("ALLOWED_HOSTNAMES")),

		TwitchClientID:      os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret:  os.Getenv("TWITCH_CLIENT_SECRET"),
		TwitchWebhookSecret: os.Getenv("TWITCH_WEBHOOK_SECRET"),
		TwitchBroadcasterID: os.Getenv("TWITCH_BROADCASTER_ID"),
		RewardTitle:         envDefault("REWARD_TITLE", "Song Request"),
		WebhookCallbackURL:  strings.TrimSpace(os.Getenv("WEBHOOK_CALLBACK_URL")),

		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
		SpotifyRedirectURL:  strings.TrimSpace(os.Getenv("SPOTIFY_REDIRECT_URL")),

		RedisURL: os.Getenv("REDIS_URL"),
		DataDir:  envDefault("DATA_DIR", "keystore"),

		ResetHour:     envInt("RESET_HOUR", 8),
		ResetTimezone: envDefault("RESET_TIMEZONE", "America/New_York"),
		PollInterval:  envDuration("POLL_INTERVAL", 5*time.Second),

		LeaderboardURL: strings.TrimSpace(os.Getenv("LEADERBOARD_URL")),
	}
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
