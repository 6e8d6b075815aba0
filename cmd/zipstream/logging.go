package main

import (
	"fmt"

	"go.uber.org/zap"
)

func createLogger(debug bool, logLevel string) (*zap.Logger, error) {
	if debug {
		logLevel = "debug"
	}
	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("некорректный уровень логирования %s: %w", logLevel, err)
	}

	var loggerCfg zap.Config
	if debug {
		loggerCfg = zap.NewDevelopmentConfig()
	} else {
		loggerCfg = zap.NewProductionConfig()
	}
	loggerCfg.Level = level

	logger, err := loggerCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("не удалось создать логгер: %w", err)
	}

	return logger.Named("zipstream"), nil
}
