package main

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"
)

func TestUtils_AuthenticateBearer(t *testing.T) {
	ctx := context.Background()
	apiSecret := "test-secret"

	header := http.Header{}
	header.Set("Authorization", "Bearer test-secret")
	if err := Authenticate(ctx, apiSecret, "", header); err != nil {
		t.Errorf("Fail for err %+v", err)
	}

	header.Set("Authorization", "Bearer wrong-secret")
	if err := Authenticate(ctx, apiSecret, "", header); err == nil {
		t.Errorf("wrong bearer should fail")
	}

	header.Set("Authorization", "NotBearer test-secret")
	if err := Authenticate(ctx, apiSecret, "", header); err == nil {
		t.Errorf("invalid authorization format should fail")
	}

	if err := Authenticate(ctx, "", "", header); err == nil {
		t.Errorf("empty api secret should fail")
	}
	if err := Authenticate(ctx, apiSecret, "", http.Header{}); err == nil {
		t.Errorf("no authorization or token should fail")
	}
}

func TestUtils_AuthenticateToken(t *testing.T) {
	ctx := context.Background()
	apiSecret := "test-secret"

	expireAt, createAt, token, err := createToken(ctx, apiSecret)
	if err != nil {
		t.Errorf("Fail for err %+v", err)
		return
	}
	if token == "" || !expireAt.After(createAt) {
		t.Errorf("token invalid, token=%v, expire=%v, create=%v", token, expireAt, createAt)
		return
	}

	if err := Authenticate(ctx, apiSecret, token, http.Header{}); err != nil {
		t.Errorf("Fail for err %+v", err)
	}

	// A token signed by another secret must be rejected.
	if err := Authenticate(ctx, "another-secret", token, http.Header{}); err == nil {
		t.Errorf("token of another secret should fail")
	}
	if err := Authenticate(ctx, apiSecret, "invalid.jwt.token", http.Header{}); err == nil {
		t.Errorf("invalid token should fail")
	}
}

func TestUtils_LoadTranscribeOptionsDefaults(t *testing.T) {
	for _, key := range []string{"TARGET_CHUNK_SIZE_MB", "API_LIMIT_MB", "CHUNK_CONCURRENCY", "CHUNK_ATTEMPTS"} {
		if v := os.Getenv(key); v != "" {
			os.Unsetenv(key)
			defer os.Setenv(key, v)
		}
	}

	opts := loadTranscribeOptions()
	if expect := int64(20 * 1024 * 1024); opts.TargetChunkSize != expect {
		t.Errorf("target failed, expect %v, actual %v", expect, opts.TargetChunkSize)
	}
	if expect := int64(25 * 1024 * 1024); opts.HardLimit != expect {
		t.Errorf("limit failed, expect %v, actual %v", expect, opts.HardLimit)
	}
	if opts.Concurrency <= 0 {
		t.Errorf("concurrency failed, actual %v", opts.Concurrency)
	}
	if expect := 3; opts.Attempts != expect {
		t.Errorf("attempts failed, expect %v, actual %v", expect, opts.Attempts)
	}
}

func TestUtils_LoadTranscribeOptionsFromEnv(t *testing.T) {
	os.Setenv("TARGET_CHUNK_SIZE_MB", "10")
	os.Setenv("API_LIMIT_MB", "15")
	os.Setenv("CHUNK_CONCURRENCY", "7")
	os.Setenv("CHUNK_ATTEMPTS", "5")
	defer func() {
		for _, key := range []string{"TARGET_CHUNK_SIZE_MB", "API_LIMIT_MB", "CHUNK_CONCURRENCY", "CHUNK_ATTEMPTS"} {
			os.Unsetenv(key)
		}
	}()

	opts := loadTranscribeOptions()
	if expect := int64(10 * 1024 * 1024); opts.TargetChunkSize != expect {
		t.Errorf("target failed, expect %v, actual %v", expect, opts.TargetChunkSize)
	}
	if expect := int64(15 * 1024 * 1024); opts.HardLimit != expect {
		t.Errorf("limit failed, expect %v, actual %v", expect, opts.HardLimit)
	}
	if expect := 7; opts.Concurrency != expect {
		t.Errorf("concurrency failed, expect %v, actual %v", expect, opts.Concurrency)
	}
	if expect := 5; opts.Attempts != expect {
		t.Errorf("attempts failed, expect %v, actual %v", expect, opts.Attempts)
	}
}

func TestUtils_EnvDurationSeconds(t *testing.T) {
	os.Unsetenv("TEST_DURATION_KEY")
	if expect := 600 * time.Second; envDurationSeconds("TEST_DURATION_KEY", 600) != expect {
		t.Errorf("default failed, expect %v", expect)
	}

	os.Setenv("TEST_DURATION_KEY", "30")
	defer os.Unsetenv("TEST_DURATION_KEY")
	if expect := 30 * time.Second; envDurationSeconds("TEST_DURATION_KEY", 600) != expect {
		t.Errorf("env failed, expect %v", expect)
	}

	os.Setenv("TEST_DURATION_KEY", "not-a-number")
	if expect := 600 * time.Second; envDurationSeconds("TEST_DURATION_KEY", 600) != expect {
		t.Errorf("invalid env failed, expect %v", expect)
	}
}

func TestUtils_SetEnvDefault(t *testing.T) {
	os.Unsetenv("TEST_DEFAULT_KEY")
	defer os.Unsetenv("TEST_DEFAULT_KEY")

	setEnvDefault("TEST_DEFAULT_KEY", "value")
	if actual := os.Getenv("TEST_DEFAULT_KEY"); actual != "value" {
		t.Errorf("default failed, expect value, actual %v", actual)
	}

	setEnvDefault("TEST_DEFAULT_KEY", "other")
	if actual := os.Getenv("TEST_DEFAULT_KEY"); actual != "value" {
		t.Errorf("default should not overwrite, actual %v", actual)
	}
}
