/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"beatbank/internal/config"
	"beatbank/internal/logger"
	"beatbank/pkg/spec"

	"github.com/faiface/beep"
)

func main() {
	cfg := config.Load()
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	})
	defer logger.Sync()

	fmt.Printf("\n%s V.%d.%d\n", spec.EngineName, spec.VersionMajor, spec.VersionMinor)

	rate := beep.SampleRate(cfg.EngineSampleRate)
	if err := initSpeaker(rate); err != nil {
		logger.Fatal("speaker init failed", logger.ErrorField(err))
	}

	ln, err := listen(cfg.EngineSocket)
	if err != nil {
		logger.Fatal("listen failed", logger.String("socket", cfg.EngineSocket), logger.ErrorField(err))
	}
	logger.Info("engine listening",
		logger.String("socket", cfg.EngineSocket),
		logger.Int("rate", cfg.EngineSampleRate),
	)

	player := newPlayer(rate)
	srv := newServer(player)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Info("shutting down", logger.String("signal", s.String()))
		player.Stop()
		ln.Close()
	}()

	if err := srv.serve(ln); err != nil {
		logger.Error("serve failed", logger.ErrorField(err))
	}
	_ = os.Remove(cfg.EngineSocket)
}
