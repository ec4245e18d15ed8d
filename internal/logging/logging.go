package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Имена уровней, которые zap не знает (WARNING, CRITICAL из прежних конфигов).
var levelAliases = map[string]string{
	"warning":  "warn",
	"critical": "fatal",
}

// New создаёт development-логгер zap с заданным уровнем (debug|info|warn|warning|error).
func New(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// ParseLevel разбирает уровень без учёта регистра.
func ParseLevel(level string) (zap.AtomicLevel, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if alias, ok := levelAliases[name]; ok {
		name = alias
	}
	lvl, err := zap.ParseAtomicLevel(name)
	if err != nil {
		return lvl, fmt.Errorf("log level %q: %w", level, err)
	}
	return lvl, nil
}
