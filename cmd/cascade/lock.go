package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// instanceLock holds an exclusive lock next to the database so two cascade
// processes never drive the same store.
type instanceLock struct {
	f *flock.Flock
}

func acquireLock(dbPath string) (*instanceLock, error) {
	lockPath := dbPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f := flock.New(lockPath)
	locked, err := f.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("another cascade instance is using %s", dbPath)
	}
	return &instanceLock{f: f}, nil
}

func (l *instanceLock) Close() error {
	return l.f.Unlock()
}
