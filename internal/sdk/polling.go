package sdk

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type pollingDataSource struct {
	req      *requester
	store    Store
	interval time.Duration
	log      zerolog.Logger
	w        *worker
}

// PollingDataSource fetches the snapshot every cfg.PollInterval.
func PollingDataSource(cfg Config, sdkKey string, store Store) (DataSource, error) {
	return &pollingDataSource{
		req: &requester{
			baseURI: cfg.BaseURI,
			sdkKey:  sdkKey,
			client:  &http.Client{Timeout: cfg.HTTPTimeout, Transport: newTransport()},
		},
		store:    store,
		interval: cfg.PollInterval,
		log:      cfg.Logger.With().Str("component", "polling").Logger(),
	}, nil
}

func (p *pollingDataSource) Start(ready chan<- struct{}) {
	sig := &signalOnce{ready: ready}
	p.w = startWorker(func(ctx context.Context) {
		defer sig.fire()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			if err := p.poll(ctx); err != nil {
				if isUnrecoverable(err) {
					p.log.Error().Err(err).Msg("SDK key rejected; polling stopped")
					return
				}
				p.log.Warn().Err(err).Msg("poll failed")
			}
			if p.store.Initialized() {
				sig.fire()
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

func (p *pollingDataSource) poll(ctx context.Context) error {
	snap, notModified, err := p.req.fetch(ctx, p.store.ETag())
	if err != nil {
		return err
	}
	if notModified {
		return nil
	}
	p.store.Init(snap, "polling")
	p.log.Debug().Str("etag", snap.ETag).Int("flags", len(snap.Flags)).Msg("snapshot updated")
	return nil
}

func (p *pollingDataSource) Close() error {
	p.w.stop()
	p.req.client.CloseIdleConnections()
	return nil
}
