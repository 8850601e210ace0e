package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Env         string
	DBPath      string
	ReplayDelay time.Duration

	// Per-connection inbound message rate limiting.
	MessagesPerSecond float64
	MessageBurst      int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func Load() Config {
	// 3.5s default: client loading page plus a buffer for canvas init.
	replayMs := getenvInt("REPLAY_DELAY_MS", 3500)

	return Config{
		Port:              getenv("PORT", "3012"),
		Env:               getenv("APP_ENV", "dev"),
		DBPath:            getenv("DIARY_DB_PATH", "./data/voldermot_diary.db"),
		ReplayDelay:       time.Duration(replayMs) * time.Millisecond,
		MessagesPerSecond: float64(getenvInt("WS_MESSAGES_PER_SECOND", 100)),
		MessageBurst:      getenvInt("WS_MESSAGE_BURST", 200),
	}
}
