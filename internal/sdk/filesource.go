package sdk

import (
	"context"
	"errors"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagfile"
	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/rs/zerolog"
)

type fileDataSource struct {
	path  string
	store Store
	log   zerolog.Logger
	w     *worker
}

// FileDataSource serves flags from cfg.FlagFile and reloads them when it changes.
func FileDataSource(cfg Config, _ string, store Store) (DataSource, error) {
	if cfg.FlagFile == "" {
		return nil, errors.New("file data source: no flag file configured")
	}
	return &fileDataSource{
		path:  cfg.FlagFile,
		store: store,
		log:   cfg.Logger.With().Str("component", "file").Logger(),
	}, nil
}

func (f *fileDataSource) Start(ready chan<- struct{}) {
	f.w = startWorker(func(ctx context.Context) {
		sig := &signalOnce{ready: ready}
		defer sig.fire()

		snap, err := flagfile.Load(f.path, "")
		if err != nil {
			f.log.Error().Err(err).Msg("failed to load flags file")
		} else {
			f.store.Init(snap, "file")
		}
		sig.fire()

		err = flagfile.Watch(ctx, f.path, "", f.log, func(s *flagmodel.Snapshot) {
			f.store.Init(s, "file")
		})
		if err != nil {
			f.log.Warn().Err(err).Msg("flags file will not be reloaded")
			return
		}
		<-ctx.Done()
	})
}

func (f *fileDataSource) Close() error {
	f.w.stop()
	return nil
}
