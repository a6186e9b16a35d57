package main

import (
	"github.com/pingcap-incubator/tinybundle/kv/config"
	"github.com/pingcap-incubator/tinybundle/kv/storage"
	"github.com/pingcap-incubator/tinybundle/kv/storage/dynamo_storage"
	"github.com/pingcap-incubator/tinybundle/kv/storage/standalone_storage"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

func newStorage(conf *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch conf.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory storage, nothing outlives this process")
		return storage.NewMemStorage(), nil
	case config.StoreBadger:
		return standalone_storage.NewStandAloneStorage(conf, logger.Named("badger")), nil
	case config.StoreDynamoDB:
		return dynamo_storage.NewDynamoStorage(conf, nil, logger.Named("dynamodb")), nil
	}
	return nil, errors.Errorf("unknown store %q", conf.Store)
}
