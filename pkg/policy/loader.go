package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader handles loading rule definitions from files and directories.
type Loader struct {
	logger  zerolog.Logger
	cache   map[string][]RuleDefinition
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a new rule loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "rule-loader").Logger(),
		cache:  make(map[string][]RuleDefinition),
	}
}

// Logger returns the loader's logger.
func (l *Loader) Logger() zerolog.Logger {
	return l.logger
}

func isRuleFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".star", ".json":
		return true
	default:
		return false
	}
}

// LoadFromPaths loads rule definitions from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]RuleDefinition, error) {
	var all []RuleDefinition

	for _, path := range paths {
		defs, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, defs...)
	}

	l.logger.Info().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Rule definitions loaded from paths")

	return all, nil
}

// loadFromPath loads definitions from a single path (file or directory).
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]RuleDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	return l.loadFromFile(path)
}

// loadFromDirectory loads all rule files from a directory recursively.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]RuleDefinition, error) {
	var defs []RuleDefinition

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isRuleFile(path) {
			return nil
		}

		loaded, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load rule file")
			return nil // Continue processing other files
		}

		defs = append(defs, loaded...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return defs, nil
}

// loadFromFile loads the definitions held by a single file.
func (l *Loader) loadFromFile(filePath string) ([]RuleDefinition, error) {
	l.mu.RLock()
	if cached, exists := l.cache[filePath]; exists {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	var defs []RuleDefinition

	switch filepath.Ext(filePath) {
	case ".rego":
		defs = []RuleDefinition{{
			Name:        name,
			Description: extractDescription(string(data), "#"),
			Kind:        RuleKindRego,
			Module:      string(data),
		}}
	case ".star":
		defs = []RuleDefinition{{
			Name:        name,
			Description: extractDescription(string(data), "#"),
			Kind:        RuleKindStarlark,
			Script:      string(data),
		}}
	case ".json":
		defs, err = parseJSONRules(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	now := time.Now()
	for i := range defs {
		defs[i].Source = filePath
		defs[i].LoadedAt = now
		if err := defs[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule in %s: %w", filePath, err)
		}
	}

	l.mu.Lock()
	l.cache[filePath] = defs
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", filePath).
		Int("rules", len(defs)).
		Msg("Rule file loaded")

	return defs, nil
}

// parseJSONRules accepts either a single definition or a bundle with a rules array.
func parseJSONRules(data []byte) ([]RuleDefinition, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse JSON rules: %w", err)
	}

	if _, ok := probe["rules"]; ok {
		var bundle RuleBundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("failed to parse rule bundle: %w", err)
		}
		return bundle.Rules, nil
	}

	var def RuleDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse JSON rule: %w", err)
	}
	if def.Kind == "" {
		def.Kind = RuleKindRego
	}
	return []RuleDefinition{def}, nil
}

// extractDescription collects the leading comment block of a source file.
func extractDescription(content, marker string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, marker) {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, marker))
			if comment != "" && !strings.HasPrefix(comment, "package") {
				if description.Len() > 0 {
					description.WriteString(" ")
				}
				description.WriteString(comment)
			}
		} else if trimmed != "" && description.Len() > 0 {
			// Stop at first non-comment, non-empty line
			break
		}
	}

	return description.String()
}

// Build compiles definitions into collections. Disabled definitions are skipped
// and a definition that fails to compile is logged and skipped.
func (l *Loader) Build(ctx context.Context, defs []RuleDefinition) []RuleCollection {
	collections := make([]RuleCollection, 0, len(defs))

	for i := range defs {
		def := &defs[i]
		if !def.IsEnabled() {
			continue
		}

		var (
			c   RuleCollection
			err error
		)
		switch def.Kind {
		case RuleKindStarlark:
			c, err = NewStarlarkCollection(def, l.logger)
		default:
			c, err = NewRegoCollection(ctx, def, l.logger)
		}
		if err != nil {
			l.logger.Warn().Err(err).
				Str("rule", def.Name).
				Str("source", def.Source).
				Msg("Failed to compile rule")
			continue
		}
		collections = append(collections, c)
	}

	return collections
}

// LoadInto loads paths and replaces the registry contents with the built-ins
// plus every collection that compiled.
func (l *Loader) LoadInto(ctx context.Context, registry *Registry, paths []string) error {
	defs, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}

	builtins, err := NewBuiltinCollections(ctx, l.logger)
	if err != nil {
		return err
	}

	collections := append(builtins, l.Build(ctx, defs)...)
	registry.Replace(collections)
	return nil
}

// Watch starts watching paths for rule changes and triggers reloadFn on change.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]RuleDefinition) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else {
			if err := watcher.Add(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
			}
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching rule paths")

	return nil
}

// WatchInto watches paths and reloads registry on every change.
func (l *Loader) WatchInto(ctx context.Context, registry *Registry, paths []string) error {
	return l.Watch(ctx, paths, func(defs []RuleDefinition) error {
		builtins, err := NewBuiltinCollections(ctx, l.logger)
		if err != nil {
			return err
		}
		registry.Replace(append(builtins, l.Build(ctx, defs)...))
		return nil
	})
}

// watchDirectory adds a directory tree to the watcher.
func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return l.watcher.Add(path)
		}

		return nil
	})
}

// processEvents processes file system events and triggers reloads.
func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]RuleDefinition) error) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			if l.watcher != nil {
				_ = l.watcher.Close()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isRuleFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Rule file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			// Debounce reload
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload rules")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload reloads all definitions from watched paths.
func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func([]RuleDefinition) error) error {
	l.logger.Info().Msg("Reloading rules...")

	defs, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}

	if err := reloadFn(defs); err != nil {
		return fmt.Errorf("failed to apply reloaded rules: %w", err)
	}

	l.logger.Info().
		Int("count", len(defs)).
		Msg("Rules reloaded successfully")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache clears the definition cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string][]RuleDefinition)
	l.logger.Debug().Msg("Rule cache cleared")
}
