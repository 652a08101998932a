package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHotAndRestartFieldsAreDisjoint(t *testing.T) {
	seen := make(map[string]bool)
	for _, f := range hotFields {
		if seen[f] {
			t.Fatalf("field %q listed twice", f)
		}
		seen[f] = true
	}
	for _, f := range restartFields {
		if seen[f] {
			t.Fatalf("field %q appears in both hot and restart-required sets", f)
		}
		seen[f] = true
	}
}

func writeConfigFile(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json5")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestReloadAppliesHotFieldInPlace(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"gateway": {"laneCapacity": 256}}`)

	initial := Default()
	w, err := NewWatcher(path, initial, nil, time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	var updatedFields []string
	w.OnUpdated(func(cfg *Config, changed []string) { updatedFields = changed })

	writeConfigFile(t, dir, `{"gateway": {"laneCapacity": 512}}`)
	w.reload()

	if initial.Gateway.LaneCapacity != 512 {
		t.Fatalf("laneCapacity = %d, want 512", initial.Gateway.LaneCapacity)
	}
	if len(updatedFields) != 1 || updatedFields[0] != "LaneCapacity" {
		t.Fatalf("updatedFields = %v, want [LaneCapacity]", updatedFields)
	}
}

func TestReloadEmitsRestartRequiredWithoutMutatingLiveConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"gateway": {"port": 18790}}`)

	initial := Default()
	w, err := NewWatcher(path, initial, nil, time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	var restartFieldsSeen []string
	w.OnRestartRequired(func(changed []string) { restartFieldsSeen = changed })

	writeConfigFile(t, dir, `{"gateway": {"port": 9999}}`)
	w.reload()

	if initial.Gateway.Port != 18790 {
		t.Fatalf("port mutated in place to %d, want unchanged 18790", initial.Gateway.Port)
	}
	if len(restartFieldsSeen) != 1 || restartFieldsSeen[0] != "Port" {
		t.Fatalf("restartFieldsSeen = %v, want [Port]", restartFieldsSeen)
	}
}

func TestReloadNoopOnUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"gateway": {"laneCapacity": 256}}`)

	initial := Default()
	initial.Gateway.LaneCapacity = 256
	w, err := NewWatcher(path, initial, nil, time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	fired := false
	w.OnUpdated(func(*Config, []string) { fired = true })
	w.OnRestartRequired(func([]string) { fired = true })

	w.reload()

	if fired {
		t.Fatal("handlers fired on unchanged content")
	}
}

func TestReloadRetainsOldConfigOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"gateway": {"laneCapacity": 256}}`)

	initial := Default()
	w, err := NewWatcher(path, initial, nil, time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	var gotErr error
	w.OnError(func(err error) { gotErr = err })

	writeConfigFile(t, dir, `not json at all`)
	w.reload()

	if gotErr == nil {
		t.Fatal("expected a parse error")
	}
	if initial.Gateway.LaneCapacity != 256 {
		t.Fatalf("laneCapacity mutated despite parse failure: %d", initial.Gateway.LaneCapacity)
	}
}

type rejectAllValidator struct{}

func (rejectAllValidator) Validate([]byte) error { return os.ErrInvalid }

func TestReloadRetainsOldConfigOnSchemaFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"gateway": {"laneCapacity": 256}}`)

	initial := Default()
	w, err := NewWatcher(path, initial, rejectAllValidator{}, time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	var gotErr error
	w.OnError(func(err error) { gotErr = err })

	writeConfigFile(t, dir, `{"gateway": {"laneCapacity": 512}}`)
	w.reload()

	if gotErr == nil {
		t.Fatal("expected a schema validation error")
	}
	if initial.Gateway.LaneCapacity != 256 {
		t.Fatalf("laneCapacity mutated despite schema failure: %d", initial.Gateway.LaneCapacity)
	}
}
