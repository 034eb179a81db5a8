//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	cos "github.com/tencentyun/cos-go-sdk-v5"
)

var artifactStore *ArtifactStore

// ArtifactStore upload final subtitle documents to a COS bucket, and the object
// key is the artifact id referenced by the outbound callback.
type ArtifactStore struct {
	secretId   string
	secretKey  string
	bucketName string
	region     string

	cosClient *cos.Client
	lock      sync.Mutex
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{}
}

// Refresh rebuild the COS client when credentials change. Credentials may be
// absent in development, then uploads are skipped and Ready is false.
func (v *ArtifactStore) Refresh(ctx context.Context) error {
	v.lock.Lock()
	defer v.lock.Unlock()

	secretId, secretKey := envCosSecretId(), envCosSecretKey()
	bucketName, region := envCosBucket(), envCosRegion()

	changed := v.secretId != secretId || v.secretKey != secretKey ||
		v.bucketName != bucketName || v.region != region
	v.secretId, v.secretKey, v.bucketName, v.region = secretId, secretKey, bucketName, region

	credentialOK := secretId != "" && secretKey != "" && bucketName != ""
	if (v.cosClient == nil || changed) && credentialOK {
		location := fmt.Sprintf("%v.cos.%v.myqcloud.com", bucketName, region)
		u, err := url.Parse(fmt.Sprintf("https://%v", location))
		if err != nil {
			return errors.Wrapf(err, "parse %v", fmt.Sprintf("https://%v", location))
		}

		v.cosClient = cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
			Transport: &cos.AuthorizationTransport{SecretID: secretId, SecretKey: secretKey},
		})
		logger.Tf(ctx, "create artifact client ok, bucket=%v, location=%v", bucketName, location)
	}
	return nil
}

func (v *ArtifactStore) Ready() bool {
	v.lock.Lock()
	defer v.lock.Unlock()

	return v.cosClient != nil
}

// Upload put the subtitle document to the bucket and return the object key.
func (v *ArtifactStore) Upload(ctx context.Context, taskUUID, fileName string, data []byte) (string, error) {
	v.lock.Lock()
	client := v.cosClient
	v.lock.Unlock()

	if client == nil {
		return "", errors.New("artifact store not ready")
	}

	key := fmt.Sprintf("%v/%v", taskUUID, fileName)
	opt := cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType:   "text/plain",
			ContentLength: int64(len(data)),
		},
	}
	if _, err := client.Object.Put(ctx, key, bytes.NewReader(data), &opt); err != nil {
		return "", errors.Wrapf(err, "cos put object %v", key)
	}

	logger.Tf(ctx, "artifact upload ok, key=%v, size=%v", key, len(data))
	return key, nil
}
