package runlock

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
)

// FileLocker locks keys with flock(2) files in a directory, which
// serializes runs between processes on one host.
type FileLocker struct {
	dir string
}

// NewFileLocker creates dir if needed and returns a FileLocker over it.
func NewFileLocker(dir string) (*FileLocker, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "karaoke-scout-locks")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "runlock: create %s", dir)
	}
	return &FileLocker{dir: dir}, nil
}

func (l *FileLocker) TryLock(_ context.Context, key string) (Lock, error) {
	fl := flock.New(filepath.Join(l.dir, KeyFor(key)+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, eris.Wrapf(err, "runlock: lock %s", key)
	}
	if !ok {
		return nil, eris.Wrapf(ErrLocked, "seed %s", key)
	}
	return &fileLock{fl: fl}, nil
}

type fileLock struct {
	fl *flock.Flock
}

func (l *fileLock) Release(context.Context) error {
	return eris.Wrap(l.fl.Unlock(), "runlock: unlock")
}
