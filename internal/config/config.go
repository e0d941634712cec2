/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"beatbank/pkg/spec"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	DBPath       string
	EngineSocket string

	// Transport tuning.
	ReconcileInterval time.Duration
	RestartThreshold  time.Duration
	CommandTimeout    time.Duration
	AutoAdvance       bool

	EngineSampleRate int
	WatchDir         string

	LogLevel string
	LogFile  string
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "beatbank.db")
	}
	return filepath.Join(home, ".config", "beatbank", "beatbank.db")
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when present. Existing variables win.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the environment only.
func FromEnv() *Config {
	return &Config{
		DBPath:            getEnv("BEATBANK_DB_PATH", defaultDBPath()),
		EngineSocket:      getEnv("BEATBANK_ENGINE_SOCKET", spec.DefaultSocket),
		ReconcileInterval: getEnvDuration("BEATBANK_RECONCILE_INTERVAL", time.Second),
		RestartThreshold:  getEnvDuration("BEATBANK_RESTART_THRESHOLD", 3*time.Second),
		CommandTimeout:    getEnvDuration("BEATBANK_COMMAND_TIMEOUT", 5*time.Second),
		AutoAdvance:       getEnvBool("BEATBANK_AUTO_ADVANCE", true),
		EngineSampleRate:  getEnvInt("BEATBANK_ENGINE_SAMPLE_RATE", 44100),
		WatchDir:          getEnv("BEATBANK_WATCH_DIR", ""),
		LogLevel:          getEnv("BEATBANK_LOG_LEVEL", "info"),
		LogFile:           getEnv("BEATBANK_LOG_FILE", ""),
	}
}
