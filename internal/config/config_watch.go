package config

import (
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"

	"github.com/relaytide/edgegateway/internal/gwerr"
)

// hotFields and restartFields partition GatewayConfig's reload behavior
// (spec §4.H). A field may appear in exactly one set — enforced by a static
// assertion in config_watch_test.go, not at runtime.
var hotFields = []string{
	"SessionTimeout", "SuspendTimeout", "HealthCheckInterval", "LaneCapacity",
	"MaxFramesPerSecond", "MaxConversations", "ConversationTTL", "DefaultConversationScope",
	"DefaultAgentID",
}

var restartFields = []string{
	"Port", "NexusURL", "NexusAPIKey", "MaxConnections",
}

// UpdatedHandler receives the freshly applied config and the names of
// fields that changed.
type UpdatedHandler func(cfg *Config, changedFields []string)

// RestartRequiredHandler receives the names of changed restart-required
// fields. The live config is not mutated when this fires.
type RestartRequiredHandler func(changedFields []string)

// ErrorHandler receives parse/validation failures. The old config is
// retained in both cases.
type ErrorHandler func(err error)

// Disposer removes a previously registered handler.
type Disposer func()

// Watcher debounces filesystem change notifications for one config file and
// dispatches hot-reloadable changes in place, routing restart-required
// changes and validation failures to their own handler sets.
type Watcher struct {
	path     string
	debounce time.Duration
	schema   Validator

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	current *Config
	timer   *time.Timer
	done    chan struct{}

	updatedMu  sync.RWMutex
	updated    map[int]UpdatedHandler
	updatedSeq int

	restartMu  sync.RWMutex
	restart    map[int]RestartRequiredHandler
	restartSeq int

	errMu  sync.RWMutex
	errs   map[int]ErrorHandler
	errSeq int
}

// Validator checks raw config JSON against a schema before it is unmarshaled
// into live structures. SchemaValidator in schema.go is the jsonschema-backed
// implementation; the snapshot engine compiles its own, separate schema.
type Validator interface {
	Validate(data []byte) error
}

// NewWatcher constructs a Watcher for path, seeded with the already-loaded
// initial config. debounce <= 0 uses the 50ms default from spec §4.H.
func NewWatcher(path string, initial *Config, schema Validator, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, gwerr.Wrap(gwerr.ErrInternal, "config: create fsnotify watcher: %v", err)
	}
	w := &Watcher{
		path:     path,
		debounce: debounce,
		schema:   schema,
		fsw:      fsw,
		current:  initial,
		done:     make(chan struct{}),
		updated:  make(map[int]UpdatedHandler),
		restart:  make(map[int]RestartRequiredHandler),
		errs:     make(map[int]ErrorHandler),
	}
	return w, nil
}

// Start watches path's parent directory (so editors that replace the file
// via rename-into-place are still observed) and begins debounced reload
// processing. Call Stop to release resources.
func (w *Watcher) Start() error {
	dir := dirOf(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return gwerr.Wrap(gwerr.ErrInternal, "config: watch %q: %v", dir, err)
	}
	go w.loop()
	return nil
}

// Stop releases the underlying filesystem watcher and cancels any pending
// debounce timer.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !matchesPath(ev.Name, w.path) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.fireError(gwerr.Wrap(gwerr.ErrInternal, "config: watch error: %v", err))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload parses, validates, and diffs the file against the currently
// applied config. Unchanged content (deep-equal) emits nothing.
func (w *Watcher) reload() {
	data, err := readFile(w.path)
	if err != nil {
		w.fireError(gwerr.Wrap(gwerr.ErrInternal, "config: read %q: %v", w.path, err))
		return
	}

	if w.schema != nil {
		if err := w.schema.Validate(data); err != nil {
			w.fireError(gwerr.Wrap(gwerr.ErrInvalidArgument, "config: schema validation failed: %v", err))
			return
		}
	}

	next := Default()
	if err := json5.Unmarshal(data, next); err != nil {
		w.fireError(gwerr.Wrap(gwerr.ErrInvalidArgument, "config: parse failed: %v", err))
		return
	}
	next.applyEnvOverrides()

	w.mu.Lock()
	prev := w.current
	if reflect.DeepEqual(prev.Snapshot(), next.Snapshot()) {
		w.mu.Unlock()
		return
	}

	hotChanged := diffFields(prev.Gateway, next.Gateway, hotFields)
	restartChanged := diffFields(prev.Gateway, next.Gateway, restartFields)

	if len(hotChanged) > 0 {
		// Restart-required fields keep their live values.
		nv := reflect.ValueOf(&next.Gateway).Elem()
		pv := reflect.ValueOf(prev.Gateway)
		for _, f := range restartFields {
			nv.FieldByName(f).Set(pv.FieldByName(f))
		}
		prev.ReplaceFrom(next)
	}
	w.mu.Unlock()

	if len(hotChanged) > 0 {
		w.fireUpdated(prev, hotChanged)
	}
	if len(restartChanged) > 0 {
		w.fireRestartRequired(restartChanged)
	}
}

func diffFields(prev, next GatewayConfig, fields []string) []string {
	pv := reflect.ValueOf(prev)
	nv := reflect.ValueOf(next)
	var changed []string
	for _, f := range fields {
		pf := pv.FieldByName(f)
		nf := nv.FieldByName(f)
		if !pf.IsValid() || !nf.IsValid() {
			continue
		}
		if !reflect.DeepEqual(pf.Interface(), nf.Interface()) {
			changed = append(changed, f)
		}
	}
	return changed
}

// OnUpdated registers fn for hot-reload application events.
func (w *Watcher) OnUpdated(fn UpdatedHandler) Disposer {
	w.updatedMu.Lock()
	w.updatedSeq++
	id := w.updatedSeq
	w.updated[id] = fn
	w.updatedMu.Unlock()
	return func() {
		w.updatedMu.Lock()
		delete(w.updated, id)
		w.updatedMu.Unlock()
	}
}

// OnRestartRequired registers fn for restart-required field changes.
func (w *Watcher) OnRestartRequired(fn RestartRequiredHandler) Disposer {
	w.restartMu.Lock()
	w.restartSeq++
	id := w.restartSeq
	w.restart[id] = fn
	w.restartMu.Unlock()
	return func() {
		w.restartMu.Lock()
		delete(w.restart, id)
		w.restartMu.Unlock()
	}
}

// OnError registers fn for parse/validation failures.
func (w *Watcher) OnError(fn ErrorHandler) Disposer {
	w.errMu.Lock()
	w.errSeq++
	id := w.errSeq
	w.errs[id] = fn
	w.errMu.Unlock()
	return func() {
		w.errMu.Lock()
		delete(w.errs, id)
		w.errMu.Unlock()
	}
}

func (w *Watcher) fireUpdated(cfg *Config, changed []string) {
	w.updatedMu.RLock()
	defer w.updatedMu.RUnlock()
	for _, fn := range w.updated {
		fn(cfg, changed)
	}
}

func (w *Watcher) fireRestartRequired(changed []string) {
	w.restartMu.RLock()
	defer w.restartMu.RUnlock()
	for _, fn := range w.restart {
		fn(changed)
	}
}

func (w *Watcher) fireError(err error) {
	slog.Warn("config watch error", "error", err)
	w.errMu.RLock()
	defer w.errMu.RUnlock()
	for _, fn := range w.errs {
		fn(err)
	}
}
