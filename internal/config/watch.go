package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the YAML overlay when its file changes on disk and hands
// each reloaded Config to a callback; what a reload changes in the running
// process is up to that callback (the gateway's retunes only admission
// rate shaping). Environment variables are re-applied on every reload and
// still take precedence, matching Load's own precedence order.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  func(Config)
}

// WatchFile starts watching yamlPath for writes, calling onLoad with each
// successfully reloaded and validated Config. Reload failures are logged
// and the previous configuration stays in effect. Returns nil if yamlPath
// is empty — there is nothing to watch for an env-only deployment.
func WatchFile(yamlPath string, onLoad func(Config)) (*Watcher, error) {
	if yamlPath == "" {
		return nil, nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(yamlPath); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: yamlPath, watcher: fw, onLoad: onLoad}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Warn().Err(err).Str("path", w.path).Msg("config: reload failed, keeping previous config")
				continue
			}
			log.Info().Str("path", w.path).Msg("config: reloaded")
			w.onLoad(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config: watcher error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil || w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
