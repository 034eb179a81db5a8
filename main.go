//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"

	"github.com/joho/godotenv"
)

func main() {
	ctx := logger.WithContext(context.Background())

	if err := doMain(ctx); err != nil {
		logger.Tf(ctx, "run err %+v", err)
		return
	}

	logger.Tf(ctx, "run ok")
}

func doMain(ctx context.Context) error {
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "Print version and quit")
	flag.BoolVar(&showVersion, "version", false, "Print version and quit")
	flag.Parse()

	if showVersion {
		fmt.Println(strings.TrimPrefix(conf.Version, "v"))
		os.Exit(0)
	}

	// Load the .env from pwd, optional for production where envs come from the
	// container environment.
	if pwd, err := os.Getwd(); err != nil {
		return errors.Wrapf(err, "getpwd")
	} else {
		conf.Pwd = pwd

		envFile := path.Join(pwd, ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return errors.Wrapf(err, "load %v", envFile)
			}
		}
	}

	// HTTP server listen port.
	setEnvDefault("TRANSCRIBER_LISTEN", "2022")

	setEnvDefault("REDIS_HOST", "localhost")
	setEnvDefault("REDIS_PORT", "6379")
	setEnvDefault("REDIS_DATABASE", "0")

	// The inbound stream of transcription requests, and the consumer group.
	setEnvDefault("INBOUND_STREAM", "transcription:media:asr")
	setEnvDefault("CONSUMER_GROUP", "transcription")
	setEnvDefault("CONSUMER_NAME", "transcription_worker")

	// The default ASR model for transcription.
	setEnvDefault("ASR_MODEL", "whisper-1")

	logger.Tf(ctx, "load .env as TRANSCRIBER_API_SECRET=%vB, OPENAI_API_KEY=%vB, OPENAI_PROXY=%v, ASR_MODEL=%v, "+
		"REDIS_HOST=%v, REDIS_PORT=%v, REDIS_PASSWORD=%vB, REDIS_DATABASE=%v, TRANSCRIBER_LISTEN=%v, "+
		"INBOUND_STREAM=%v, CONSUMER_GROUP=%v, CONSUMER_NAME=%v, COS_BUCKET=%v, COS_REGION=%v, NOTIFY_WEBHOOK=%vB",
		len(os.Getenv("TRANSCRIBER_API_SECRET")), len(os.Getenv("OPENAI_API_KEY")), os.Getenv("OPENAI_PROXY"),
		os.Getenv("ASR_MODEL"), os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"), len(os.Getenv("REDIS_PASSWORD")),
		os.Getenv("REDIS_DATABASE"), os.Getenv("TRANSCRIBER_LISTEN"), os.Getenv("INBOUND_STREAM"),
		os.Getenv("CONSUMER_GROUP"), os.Getenv("CONSUMER_NAME"), os.Getenv("COS_BUCKET"), os.Getenv("COS_REGION"),
		len(os.Getenv("NOTIFY_WEBHOOK")),
	)

	// Install signals.
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for s := range sc {
			logger.Tf(ctx, "Got signal %v", s)
			cancel()
		}
	}()

	// Initialize global rdb, the redis client.
	if err := InitRdb(); err != nil {
		return errors.Wrapf(err, "init rdb")
	}
	logger.Tf(ctx, "init rdb(redis client) ok")

	// Initialize the artifact store, optional when COS is not configured.
	artifactStore = NewArtifactStore()
	if err := artifactStore.Refresh(ctx); err != nil {
		return errors.Wrapf(err, "refresh artifact store")
	}

	store := NewTaskStore()

	// Create worker to consume transcription requests from the stream.
	consumerWorker = NewConsumerWorker(store)
	defer consumerWorker.Close()
	if err := consumerWorker.Start(ctx); err != nil {
		return errors.Wrapf(err, "start consumer worker")
	}

	// Create worker to sweep stuck tasks.
	monitorWorker = NewMonitorWorker(store)
	defer monitorWorker.Close()
	if err := monitorWorker.Start(ctx); err != nil {
		return errors.Wrapf(err, "start monitor worker")
	}

	// Run HTTP service.
	httpService := NewHTTPService(store)
	defer httpService.Close()
	if err := httpService.Run(ctx); err != nil {
		return errors.Wrapf(err, "start http service")
	}

	return nil
}
