package store

import (
	"context"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagfile"
	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/rs/zerolog"
)

// FileStore serves flags from a YAML or JSON document on disk. Flags without
// an env belong to every environment.
type FileStore struct {
	path string
	log  zerolog.Logger
}

func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, log: logger}
}

func (f *FileStore) GetAllFlags(_ context.Context, env string) ([]flagmodel.Flag, error) {
	snap, err := flagfile.Load(f.path, "")
	if err != nil {
		return nil, err
	}
	out := make([]flagmodel.Flag, 0, len(snap.Flags))
	for _, flag := range snap.Flags {
		if flag.Env == "" || flag.Env == env {
			flag.Env = env
			out = append(out, flag)
		}
	}
	return out, nil
}

// Watch calls onChange whenever the file is rewritten.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	return flagfile.Watch(ctx, f.path, "", f.log, func(*flagmodel.Snapshot) { onChange() })
}

func (f *FileStore) Close() error { return nil }
