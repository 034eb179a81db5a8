// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"

	// Use v8 because we use Go 1.16+, while v9 requires Go 1.18+
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v4"
)

// Config is for configuration.
type Config struct {
	IsDarwin bool
	// Current working directory.
	Pwd string

	// The version of current service.
	Version string
}

func NewConfig() *Config {
	return &Config{
		IsDarwin: runtime.GOOS == "darwin",
		Version:  "v1.0.0",
	}
}

func (v *Config) String() string {
	return fmt.Sprintf("darwin=%v, pwd=%v, version=%v", v.IsDarwin, v.Pwd, v.Version)
}

// conf is a global config object.
var conf *Config

func init() {
	conf = NewConfig()
}

// rdb is a global redis client object.
var rdb *redis.Client

// InitRdb create and initialize the global rdb client.
func InitRdb() error {
	redisDatabase, err := strconv.Atoi(envRedisDatabase())
	if err != nil {
		return errors.Wrapf(err, "invalid REDIS_DATABASE %v", envRedisDatabase())
	}

	rdb = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%v:%v", envRedisHost(), envRedisPort()),
		Password: envRedisPassword(),
		DB:       redisDatabase,
	})
	return nil
}

const (
	// TRANSCRIBER_TASK is the hash of transcription tasks, uuid to task JSON.
	TRANSCRIBER_TASK = "TRANSCRIBER_TASK"
	// TRANSCRIBER_ASR_CONFIG is the hash of the ASR provider config.
	TRANSCRIBER_ASR_CONFIG = "TRANSCRIBER_ASR_CONFIG"
)

func envRedisHost() string {
	return os.Getenv("REDIS_HOST")
}

func envRedisPort() string {
	return os.Getenv("REDIS_PORT")
}

func envRedisPassword() string {
	return os.Getenv("REDIS_PASSWORD")
}

func envRedisDatabase() string {
	return os.Getenv("REDIS_DATABASE")
}

func envListen() string {
	return os.Getenv("TRANSCRIBER_LISTEN")
}

func envApiSecret() string {
	return os.Getenv("TRANSCRIBER_API_SECRET")
}

func envInboundStream() string {
	return os.Getenv("INBOUND_STREAM")
}

func envConsumerGroup() string {
	return os.Getenv("CONSUMER_GROUP")
}

func envConsumerName() string {
	return os.Getenv("CONSUMER_NAME")
}

func envNotifyWebhook() string {
	return os.Getenv("NOTIFY_WEBHOOK")
}

func envAsrSecretKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func envAsrBaseURL() string {
	return os.Getenv("OPENAI_PROXY")
}

func envAsrModel() string {
	return os.Getenv("ASR_MODEL")
}

func envCosSecretId() string {
	return os.Getenv("COS_SECRET_ID")
}

func envCosSecretKey() string {
	return os.Getenv("COS_SECRET_KEY")
}

func envCosBucket() string {
	return os.Getenv("COS_BUCKET")
}

func envCosRegion() string {
	return os.Getenv("COS_REGION")
}

func envStuckCheckInterval() time.Duration {
	return envDurationSeconds("STUCK_CHECK_INTERVAL", 600)
}

func envStuckTaskTimeout() time.Duration {
	return envDurationSeconds("STUCK_TASK_TIMEOUT", 3600)
}

func envDurationSeconds(key string, def int) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return time.Duration(def) * time.Second
}

func envIntDefault(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// loadTranscribeOptions builds the chunking and dispatch options from envs.
// The hard limit follows the AI service's request size cap, while the target
// chunk size leaves headroom below it.
func loadTranscribeOptions() TranscribeOptions {
	return TranscribeOptions{
		TargetChunkSize: int64(envIntDefault("TARGET_CHUNK_SIZE_MB", 20)) * 1024 * 1024,
		HardLimit:       int64(envIntDefault("API_LIMIT_MB", 25)) * 1024 * 1024,
		Concurrency:     envIntDefault("CHUNK_CONCURRENCY", 4),
		Attempts:        envIntDefault("CHUNK_ATTEMPTS", 3),
	}
}

func setEnvDefault(key, value string) {
	if os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}

// For platform to build token by jwt.
func createToken(ctx context.Context, apiSecret string) (expireAt, createAt time.Time, token string, err error) {
	createAt, expireAt = time.Now(), time.Now().Add(365*24*time.Hour)

	claims := struct {
		Version string `json:"v"`
		Nonce   string `json:"nonce"`
		jwt.RegisteredClaims
	}{
		Version: "1.0",
		Nonce:   fmt.Sprintf("%x", rand.Uint64()),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(createAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(
		[]byte(apiSecret),
	)
	if err != nil {
		return expireAt, createAt, "", errors.Wrapf(err, "jwt sign")
	}

	return expireAt, createAt, token, nil
}

func ParseBody(ctx context.Context, r io.ReadCloser, v interface{}) error {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "read body")
	}
	defer r.Close()

	if len(b) == 0 {
		return nil
	}

	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrapf(err, "json unmarshal %v", string(b))
	}

	return nil
}

// Authenticate check by Bearer or token.
// If use bearer secret, there is the header Authorization: Bearer {apiSecret}.
// If use token, there is a JWT token which is signed by apiSecret.
func Authenticate(ctx context.Context, apiSecret, token string, header http.Header) error {
	// Check system api secret.
	if apiSecret == "" {
		return errors.New("no api secret")
	}

	// Should use bearer secret or token.
	authorization := header.Get("Authorization")
	if authorization == "" && token == "" {
		return errors.New("no Authorization or token")
	}

	// Verify bearer secret first.
	if authorization != "" {
		parseBearerToken := func(authorization string) (string, error) {
			authParts := strings.Split(authorization, " ")
			if len(authParts) != 2 || strings.ToLower(authParts[0]) != "bearer" {
				return "", errors.New("Invalid Authorization format")
			}

			return authParts[1], nil
		}

		authSecret, err := parseBearerToken(authorization)
		if err != nil {
			return errors.Wrapf(err, "parse bearer token")
		}

		if authSecret != apiSecret {
			return errors.New("invalid bearer token")
		}
		return nil
	}

	// Verify token, @see https://pkg.go.dev/github.com/golang-jwt/jwt/v4#example-Parse-Hmac
	if _, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(apiSecret), nil
	}); err != nil {
		return errors.Wrapf(err, "verify token %v", token)
	}

	return nil
}
