package config

import (
	"os"
	"path/filepath"
)

func dirOf(path string) string {
	dir := filepath.Dir(path)
	if dir == "" {
		return "."
	}
	return dir
}

func matchesPath(eventName, watchedPath string) bool {
	a, err1 := filepath.Abs(eventName)
	b, err2 := filepath.Abs(watchedPath)
	if err1 != nil || err2 != nil {
		return eventName == watchedPath
	}
	return a == b
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
