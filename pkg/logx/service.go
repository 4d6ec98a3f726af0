package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "tibiabot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig mirrors records at or above MinLevel (default warn) to the log chat.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./tibiabot.log"

// Service owns the sinks. Apply rebuilds them in place and every Logger
// handed out by the service picks up the new root.
type Service struct {
	mu   sync.Mutex
	file *os.File

	root   atomic.Pointer[zerolog.Logger]
	alerts *alertSink
}

// New builds the service from cfg. sender may be nil, which disables the Telegram sink.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	s := &Service{alerts: newAlertSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetTelegramTarget points alerts at the log chat. A zero chatID mutes them.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.alerts.setTarget(chatID, threadID)
}

// TelegramDropped counts alerts discarded because the send queue was full.
func (s *Service) TelegramDropped() uint64 { return s.alerts.dropped.Load() }

// Apply swaps level and sinks. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	s.alerts.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		writers = append(writers, s.alerts)
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the alert sender and closes the log file.
func (s *Service) Close() error {
	s.alerts.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
