package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// Config holds all application configuration
// Covers the translation service, the player selectors the overlay watches,
// overlay timing, the HTTP API and the history journal
// Supports environment variables with sensible defaults
//
// Environment Variables:
// Translation Service:
// - TRANSLATE_API_URL: gtx-style endpoint (default: https://translate.googleapis.com/translate_a/single)
// - SOURCE_LANGUAGE: language of the captions to pick up (default: nl)
// - TARGET_LANGUAGE: language to translate into (default: en)
// - TRANSLATE_TIMEOUT: request timeout in seconds (default: 15)
// - REPORT_CRON_EXPR: telemetry report + retention sweep schedule (default: */5 * * * *)
//
// Player Selectors:
// - CAPTION_CONTAINER_SELECTOR: subtree holding live captions (default: .vjs-text-track-display)
// - CAPTION_PARAGRAPH_SELECTOR: one caption line (default: .vjs-text-track-cue)
// - PLAYBACK_CONTROL_SELECTOR: play/pause control (default: .vjs-play-control)
// - PAUSED_CLASS: class the control carries while paused (default: vjs-paused)
// - LANGUAGE_ATTRIBUTE: attribute carrying the caption language (default: lang)
// - PROCESSED_MARKER: attribute set on captions already submitted (default: data-translated)
// - TRANSLATED_CLASS: class of the injected translated elements (default: translated-caption)
//
// Overlay Timing:
// - CONTAINER_TIMEOUT: seconds to wait for the caption container (default: 20)
// - CONTROL_TIMEOUT: seconds to wait for the playback control (default: 5)
// - RETRY_DELAY: seconds between failed initialization attempts (default: 5)
// - SETTLE_DELAY_MS: delay after a navigation before restarting (default: 500)
// - OVERLAY_WORKERS: translation dispatch workers per page (default: 2)
//
// HTTP / System:
// - HTTP_ADDR: listen address (default: :8085)
// - UI_STATIC_DIR: static UI directory (default: /app/web)
// - UI_ENABLED: serve the static UI (default: false)
// - DATA_DIR: database directory (default: /app/data)
// - HISTORY_RETENTION_DAYS: journal retention window (default: 30)
// - TZ: timezone (default: UTC)

type Config struct {
	// Translation Service Configuration
	Translate TranslateConfig `json:"translate"`

	// Player Selector Configuration
	Player PlayerConfig `json:"player"`

	// Overlay Timing Configuration
	Overlay OverlayConfig `json:"overlay"`

	// HTTP Configuration
	HTTP HTTPConfig `json:"http"`

	// History Journal Configuration
	History HistoryConfig `json:"history"`

	// System Configuration
	System SystemConfig `json:"system"`
}

// TranslateConfig holds the configuration for the translation service client
// and the report schedule.
type TranslateConfig struct {
	APIURL         string       `json:"api_url"`
	SourceLanguage language.Tag `json:"source_language"`
	TargetLanguage language.Tag `json:"target_language"`
	Timeout        int          `json:"timeout"`
	CronExpr       string       `json:"cron_expr"`
}

// PlayerConfig names the pieces of the host page the overlay works against.
type PlayerConfig struct {
	ContainerSelector string `json:"container_selector"`
	ParagraphSelector string `json:"paragraph_selector"`
	ControlSelector   string `json:"control_selector"`
	PausedClass       string `json:"paused_class"`
	LanguageAttribute string `json:"language_attribute"`
	ProcessedMarker   string `json:"processed_marker"`
	TranslatedClass   string `json:"translated_class"`
}

// OverlayConfig holds session timing and dispatch concurrency.
type OverlayConfig struct {
	ContainerTimeout time.Duration `json:"container_timeout"`
	ControlTimeout   time.Duration `json:"control_timeout"`
	RetryDelay       time.Duration `json:"retry_delay"`
	SettleDelay      time.Duration `json:"settle_delay"`
	Workers          int           `json:"workers"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIStaticDir string `json:"ui_static_dir"`
	UIEnabled   bool   `json:"ui_enabled"`
}

type HistoryConfig struct {
	RetentionDays int `json:"retention_days"`
}

// SystemConfig holds the system configuration
type SystemConfig struct {
	DataDir string `json:"data_dir"`
	TZ      string `json:"tz"`
}

// DBPath is where the history journal lives.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "captions.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Translate: TranslateConfig{
			APIURL:         getEnvString("TRANSLATE_API_URL", "https://translate.googleapis.com/translate_a/single"),
			SourceLanguage: parseLanguage(getEnvString("SOURCE_LANGUAGE", "nl")),
			TargetLanguage: parseLanguage(getEnvString("TARGET_LANGUAGE", "en")),
			Timeout:        getEnvInt("TRANSLATE_TIMEOUT", 15),
			CronExpr:       getEnvString("REPORT_CRON_EXPR", "*/5 * * * *"),
		},
		Player: PlayerConfig{
			ContainerSelector: getEnvString("CAPTION_CONTAINER_SELECTOR", ".vjs-text-track-display"),
			ParagraphSelector: getEnvString("CAPTION_PARAGRAPH_SELECTOR", ".vjs-text-track-cue"),
			ControlSelector:   getEnvString("PLAYBACK_CONTROL_SELECTOR", ".vjs-play-control"),
			PausedClass:       getEnvString("PAUSED_CLASS", "vjs-paused"),
			LanguageAttribute: getEnvString("LANGUAGE_ATTRIBUTE", "lang"),
			ProcessedMarker:   getEnvString("PROCESSED_MARKER", "data-translated"),
			TranslatedClass:   getEnvString("TRANSLATED_CLASS", "translated-caption"),
		},
		Overlay: OverlayConfig{
			ContainerTimeout: time.Duration(getEnvInt("CONTAINER_TIMEOUT", 20)) * time.Second,
			ControlTimeout:   time.Duration(getEnvInt("CONTROL_TIMEOUT", 5)) * time.Second,
			RetryDelay:       time.Duration(getEnvInt("RETRY_DELAY", 5)) * time.Second,
			SettleDelay:      time.Duration(getEnvInt("SETTLE_DELAY_MS", 500)) * time.Millisecond,
			Workers:          getEnvInt("OVERLAY_WORKERS", 2),
		},
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8085"),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "/app/web"),
			UIEnabled:   getEnvBool("UI_ENABLED", false),
		},
		History: HistoryConfig{
			RetentionDays: getEnvInt("HISTORY_RETENTION_DAYS", 30),
		},
		System: SystemConfig{
			DataDir: getEnvString("DATA_DIR", "/app/data"),
			TZ:      getEnvString("TZ", "UTC"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Translate.APIURL == "" {
		return fmt.Errorf("TRANSLATE_API_URL is required")
	}
	if c.Translate.SourceLanguage == language.Und {
		return fmt.Errorf("SOURCE_LANGUAGE is not a valid language tag")
	}
	if c.Translate.TargetLanguage == language.Und {
		return fmt.Errorf("TARGET_LANGUAGE is not a valid language tag")
	}
	if c.Translate.Timeout <= 0 {
		return fmt.Errorf("TRANSLATE_TIMEOUT must be positive")
	}
	if _, err := cron.ParseStandard(c.Translate.CronExpr); err != nil {
		return fmt.Errorf("invalid REPORT_CRON_EXPR: %w", err)
	}

	selectors := map[string]string{
		"CAPTION_CONTAINER_SELECTOR": c.Player.ContainerSelector,
		"CAPTION_PARAGRAPH_SELECTOR": c.Player.ParagraphSelector,
		"PLAYBACK_CONTROL_SELECTOR":  c.Player.ControlSelector,
	}
	for name, sel := range selectors {
		if sel == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := cascadia.Parse(sel); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.Player.PausedClass == "" {
		return fmt.Errorf("PAUSED_CLASS is required")
	}
	if c.Player.LanguageAttribute == "" {
		return fmt.Errorf("LANGUAGE_ATTRIBUTE is required")
	}
	if c.Player.ProcessedMarker == "" {
		return fmt.Errorf("PROCESSED_MARKER is required")
	}
	if c.Player.TranslatedClass == "" {
		return fmt.Errorf("TRANSLATED_CLASS is required")
	}

	if c.Overlay.ContainerTimeout <= 0 || c.Overlay.ControlTimeout <= 0 {
		return fmt.Errorf("overlay timeouts must be positive")
	}
	if c.Overlay.RetryDelay <= 0 || c.Overlay.SettleDelay <= 0 {
		return fmt.Errorf("overlay delays must be positive")
	}
	if c.Overlay.Workers < 1 {
		return fmt.Errorf("OVERLAY_WORKERS must be at least 1")
	}
	if c.History.RetentionDays < 1 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must be at least 1")
	}
	return nil
}

// parseLanguage returns Und for unparsable values; validate rejects Und.
func parseLanguage(value string) language.Tag {
	tag, err := language.Parse(value)
	if err != nil {
		return language.Und
	}
	return tag
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
