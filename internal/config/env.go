package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that override file values when set.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvCreatureChat  = "CREATURE_CHAT_ID"
	EnvBossChat      = "BOSS_CHAT_ID"
	EnvStorageDSN    = "STORAGE_DSN"
)

// ApplyEnv overlays environment values onto cfg.
//
// Chat variables accept "<chat_id>" or "<chat_id>:<thread_id>".
// Empty values are ignored so an exported-but-blank variable never wipes the file value.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	if v, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvCreatureChat); ok && strings.TrimSpace(v) != "" {
		c, err := ParseChat(EnvCreatureChat, v)
		if err != nil {
			return err
		}
		cfg.Boosted.CreatureChat = c
	}
	if v, ok := lookup(EnvBossChat); ok && strings.TrimSpace(v) != "" {
		c, err := ParseChat(EnvBossChat, v)
		if err != nil {
			return err
		}
		cfg.Boosted.BossChat = c
	}
	// Only fills an already configured storage section; the driver stays a file decision.
	if v, ok := lookup(EnvStorageDSN); ok && strings.TrimSpace(v) != "" && cfg.Storage != nil {
		cfg.Storage.DSN = strings.TrimSpace(v)
	}
	return nil
}

// ParseChat parses "<chat_id>[:<thread_id>]".
func ParseChat(path, raw string) (ChatConfig, error) {
	s := strings.TrimSpace(raw)
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	id, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil {
		return ChatConfig{}, fmt.Errorf("%s: invalid chat id %q: %w", path, raw, err)
	}
	out := ChatConfig{ChatID: id}
	if hasThread {
		th, err := strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil || th < 0 {
			return ChatConfig{}, fmt.Errorf("%s: invalid thread id in %q", path, raw)
		}
		out.ThreadID = th
	}
	return out, nil
}
