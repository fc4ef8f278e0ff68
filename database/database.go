// Package database is a flat-file store for component state snapshots. Each
// component gets a directory under the configured data dir; snapshots are keyed
// by state hash with a "current" file holding the latest.
package database

import (
	"fmt"
	"os"
	"time"

	dircopy "github.com/otiai10/copy"

	"poolmachine/poolmachine"
)

func dataDir() (string, bool) {
	conf := poolmachine.MakeOrGetConfig()
	if conf == nil {
		return "", false
	}
	return conf.GetString("rootDir") + conf.GetString("flatFileDir"), true
}

func path(component, key string) (string, bool) {
	dir, ok := dataDir()
	if !ok {
		return "", false
	}
	dir = dir + component + "/"
	if err := os.MkdirAll(dir, 0755); err != nil {
		poolmachine.LogCLI(err.Error(), 0)
		return "", false
	}
	return dir + key, true
}

// Write persists data under the component's directory. Errors here are fatal:
// losing snapshots silently is worse than stopping.
func Write(component, key string, data []byte) {
	p, ok := path(component, key)
	if !ok {
		return
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		poolmachine.LogCLI(err.Error(), 0)
	}
}

// Open returns the file for the given component and key, and whether it exists.
// The caller owns closing it.
func Open(component, key string) (*os.File, bool) {
	p, ok := path(component, key)
	if !ok {
		return nil, false
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, false
	}
	return f, true
}

// Backup copies the whole data dir aside so that a bad shutdown can't take the
// only copy of our snapshots with it.
func Backup() {
	dir, ok := dataDir()
	if !ok {
		return
	}
	conf := poolmachine.MakeOrGetConfig()
	dest := conf.GetString("rootDir") + "backup/" + fmt.Sprint(time.Now().Unix()) + "/"
	if err := dircopy.Copy(dir, dest); err != nil {
		poolmachine.LogCLI(err.Error(), 2)
		return
	}
	poolmachine.LogCLI("backed up data dir to "+dest, 4)
}
