package storage

import "path/filepath"

const (
	cursorsDirName = "cursors"
	runsDirName    = "runs"
	sqliteFileName = "cursors.db"
)

// cursorsDir is where the file backend keeps one JSON cursor per entity type
func (f *defaultFactory) cursorsDir() string {
	return filepath.Join(f.config.DataDir, cursorsDirName)
}

// runsDir is where the file history journals runs
func (f *defaultFactory) runsDir() string {
	return filepath.Join(f.config.DataDir, runsDirName)
}

func (f *defaultFactory) sqlitePath() string {
	return filepath.Join(f.config.DataDir, sqliteFileName)
}
