//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	ohttp "github.com/ossrs/go-oryx-lib/http"
	"github.com/ossrs/go-oryx-lib/logger"
)

type HttpService interface {
	Close() error
	Run(ctx context.Context) error
}

func NewHTTPService(store *TaskStore) HttpService {
	return &httpService{store: store}
}

type httpService struct {
	store   *TaskStore
	servers []*http.Server
}

func (v *httpService) Close() error {
	servers := v.servers
	v.servers = nil

	for _, server := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Tf(ctx, "ignore HTTP server shutdown err %v", err)
		}
	}

	return nil
}

func (v *httpService) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	handler := http.NewServeMux()
	if err := v.handle(ctx, handler); err != nil {
		return errors.Wrapf(err, "handle service")
	}

	addr := envListen()
	if !strings.HasPrefix(addr, ":") {
		addr = fmt.Sprintf(":%v", addr)
	}
	logger.Tf(ctx, "HTTP listen at %v", addr)

	server := &http.Server{Addr: addr, Handler: handler}
	v.servers = append(v.servers, server)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		logger.Tf(ctx, "shutting down HTTP server...")
		v.Close()
	}()

	var r0 error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil && ctx.Err() != context.Canceled {
			r0 = errors.Wrapf(err, "listen %v", addr)
		}
		logger.Tf(ctx, "HTTP server is done")
	}()

	wg.Wait()
	return r0
}

func (v *httpService) handle(ctx context.Context, handler *http.ServeMux) error {
	ep := "/api/v1/health"
	logger.Tf(ctx, "Handle %v", ep)
	handler.HandleFunc(ep, func(w http.ResponseWriter, r *http.Request) {
		if err := func() error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return errors.Wrapf(err, "ping redis")
			}

			ohttp.WriteData(ctx, w, r, &struct {
				Status string `json:"status"`
			}{
				Status: "ok",
			})
			return nil
		}(); err != nil {
			ohttp.WriteError(ctx, w, r, err)
		}
	})

	ep = "/api/v1/token"
	logger.Tf(ctx, "Handle %v", ep)
	handler.HandleFunc(ep, func(w http.ResponseWriter, r *http.Request) {
		if err := func() error {
			apiSecret := envApiSecret()
			if err := Authenticate(ctx, apiSecret, "", r.Header); err != nil {
				return errors.Wrapf(err, "authenticate")
			}

			expireAt, createAt, token, err := createToken(ctx, apiSecret)
			if err != nil {
				return errors.Wrapf(err, "create token")
			}

			ohttp.WriteData(ctx, w, r, &struct {
				Token    string `json:"token"`
				CreateAt string `json:"createAt"`
				ExpireAt string `json:"expireAt"`
			}{
				Token: token, CreateAt: createAt.Format(time.RFC3339), ExpireAt: expireAt.Format(time.RFC3339),
			})
			logger.Tf(ctx, "token create ok, expire=%v", expireAt.Format(time.RFC3339))
			return nil
		}(); err != nil {
			ohttp.WriteError(ctx, w, r, err)
		}
	})

	ep = "/api/v1/transcribe"
	logger.Tf(ctx, "Handle %v", ep)
	handler.HandleFunc(ep, func(w http.ResponseWriter, r *http.Request) {
		if err := v.handleTranscribe(ctx, w, r); err != nil {
			ohttp.WriteError(ctx, w, r, err)
		}
	})

	ep = "/api/v1/tasks/query"
	logger.Tf(ctx, "Handle %v", ep)
	handler.HandleFunc(ep, func(w http.ResponseWriter, r *http.Request) {
		if err := func() error {
			var token, taskUUID string
			if err := ParseBody(ctx, r.Body, &struct {
				Token *string `json:"token"`
				UUID  *string `json:"uuid"`
			}{
				Token: &token, UUID: &taskUUID,
			}); err != nil {
				return errors.Wrapf(err, "parse body")
			}

			apiSecret := envApiSecret()
			if err := Authenticate(ctx, apiSecret, token, r.Header); err != nil {
				return errors.Wrapf(err, "authenticate")
			}

			task, err := v.store.Query(ctx, taskUUID)
			if err != nil {
				return errors.Wrapf(err, "query task %v", taskUUID)
			}
			if task == nil {
				return errors.Errorf("no task %v", taskUUID)
			}

			ohttp.WriteData(ctx, w, r, &struct {
				Task *TranscriptionTask `json:"task"`
			}{
				Task: task,
			})
			logger.Tf(ctx, "task query ok, uuid=%v, status=%v", task.UUID, task.Status)
			return nil
		}(); err != nil {
			ohttp.WriteError(ctx, w, r, err)
		}
	})

	ep = "/api/v1/asr/query"
	logger.Tf(ctx, "Handle %v", ep)
	handler.HandleFunc(ep, func(w http.ResponseWriter, r *http.Request) {
		if err := func() error {
			var token string
			if err := ParseBody(ctx, r.Body, &struct {
				Token *string `json:"token"`
			}{
				Token: &token,
			}); err != nil {
				return errors.Wrapf(err, "parse body")
			}

			apiSecret := envApiSecret()
			if err := Authenticate(ctx, apiSecret, token, r.Header); err != nil {
				return errors.Wrapf(err, "authenticate")
			}

			var config AsrConfig
			if err := config.Load(ctx); err != nil {
				return errors.Wrapf(err, "load config")
			}

			ohttp.WriteData(ctx, w, r, &struct {
				Config AsrConfig `json:"config"`
			}{
				Config: config,
			})
			logger.Tf(ctx, "asr query ok, config=<%v>", config.String())
			return nil
		}(); err != nil {
			ohttp.WriteError(ctx, w, r, err)
		}
	})

	ep = "/api/v1/asr/apply"
	logger.Tf(ctx, "Handle %v", ep)
	handler.HandleFunc(ep, func(w http.ResponseWriter, r *http.Request) {
		if err := func() error {
			var token string
			var config AsrConfig
			if err := ParseBody(ctx, r.Body, &struct {
				Token *string `json:"token"`
				*AsrConfig
			}{
				Token: &token, AsrConfig: &config,
			}); err != nil {
				return errors.Wrapf(err, "parse body")
			}

			apiSecret := envApiSecret()
			if err := Authenticate(ctx, apiSecret, token, r.Header); err != nil {
				return errors.Wrapf(err, "authenticate")
			}

			// Verify the secret and base URL against the AI service before saving.
			if err := checkAsrModel(ctx, config); err != nil {
				return errors.Wrapf(err, "check config <%v>", config.String())
			}

			if err := config.Save(ctx); err != nil {
				return errors.Wrapf(err, "save config <%v>", config.String())
			}

			ohttp.WriteData(ctx, w, r, nil)
			logger.Tf(ctx, "asr apply ok, config=<%v>", config.String())
			return nil
		}(); err != nil {
			ohttp.WriteError(ctx, w, r, err)
		}
	})

	return nil
}

// handleTranscribe is the direct synchronous path: upload a media file, run the
// whole pipeline inline and return the SRT body. No task record is created.
func (v *httpService) handleTranscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	apiSecret := envApiSecret()
	if err := Authenticate(ctx, apiSecret, r.URL.Query().Get("token"), r.Header); err != nil {
		return errors.Wrapf(err, "authenticate")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return errors.Wrapf(err, "read form file")
	}
	defer file.Close()

	workDir, err := ioutil.TempDir("", "transcriber-")
	if err != nil {
		return errors.Wrapf(err, "create work dir")
	}
	defer os.RemoveAll(workDir)

	fileName := header.Filename
	if fileName == "" {
		fileName = "upload"
	}
	inputPath := path.Join(workDir, path.Base(fileName))

	f, err := os.Create(inputPath)
	if err != nil {
		return errors.Wrapf(err, "create %v", inputPath)
	}
	if _, err := io.Copy(f, file); err != nil {
		f.Close()
		return errors.Wrapf(err, "save %v", inputPath)
	}
	f.Close()
	logger.Tf(ctx, "transcribe upload ok, file=%v, size=%v", fileName, header.Size)

	buf, err := normalizeAndLoad(ctx, inputPath, workDir)
	if err != nil {
		return err
	}

	var config AsrConfig
	if err := config.Load(ctx); err != nil {
		return errors.Wrapf(err, "load asr config")
	}
	if language := r.FormValue("language"); language != "" {
		config.Language = language
	}
	if model := r.FormValue("model"); model != "" {
		config.Model = model
	}

	doc, err := TranscribeBuffer(ctx, NewOpenAITranscriber(config), buf, loadTranscribeOptions())
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%v.srt\"", base))
	w.Write([]byte(doc.ComposeSRT()))

	logger.Tf(ctx, "transcribe ok, file=%v, cues=%v", fileName, len(doc.Cues))
	return nil
}
