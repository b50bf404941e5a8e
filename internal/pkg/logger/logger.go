package logger

import (
	"go.uber.org/zap"

	"github.com/qs3c/novel_go_server/config"
)

// New 根据配置创建带名称的 zap logger
func New(name string, cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Env == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err == nil {
			zcfg.Level = level
		}
	}

	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	if name != "" {
		return l.Named(name), nil
	}
	return l, nil
}

// MustNew 创建 logger，失败时 panic
func MustNew(name string, cfg config.LogConfig) *zap.Logger {
	l, err := New(name, cfg)
	if err != nil {
		panic(err)
	}
	return l
}

// OrNop nil 时返回空 logger
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
