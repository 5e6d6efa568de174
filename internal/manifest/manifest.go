package manifest

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"widgetbridge/pkg/types"
)

// Entry describes one embeddable widget: where its content lives and
// how the host frames it.
type Entry struct {
	BaseURI   string `yaml:"base_uri" json:"base_uri"`
	IframeURI string `yaml:"iframe_uri" json:"iframe_uri"`
	Width     int    `yaml:"width" json:"width"`
	Height    int    `yaml:"height" json:"height"`
	Absolute  bool   `yaml:"absolute" json:"absolute"`
}

type document struct {
	Widgets map[string]Entry `yaml:"widgets"`
}

// Catalog maps widget IDs to their embed entries, loaded from a YAML
// file and hot-reloaded while the file changes underneath a running
// server. A reload that fails to parse keeps the previous catalog.
type Catalog struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]Entry

	watcher  *fsnotify.Watcher
	done     chan struct{}
	debounce *time.Timer
	stopOnce sync.Once
}

// Load reads the catalog file.
func Load(path string, log zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		path: path,
		log:  log.With().Str("component", "manifest").Logger(),
		done: make(chan struct{}),
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup returns the entry for a widget ID.
func (c *Catalog) Lookup(widgetID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, exists := c.entries[widgetID]
	return entry, exists
}

// Len returns the number of catalogued widgets.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Watch starts hot reload. Rapid successive writes (editors, rsync)
// are debounced into one reload.
func (c *Catalog) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.path); err != nil {
		_ = watcher.Close()
		return err
	}
	c.watcher = watcher
	go c.loop()
	return nil
}

// Close stops the watcher.
func (c *Catalog) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.watcher != nil {
			_ = c.watcher.Close()
		}
	})
	return nil
}

func (c *Catalog) loop() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				c.scheduleReload()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Warn().Err(err).Msg("manifest watch error")
		}
	}
}

func (c *Catalog) scheduleReload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(100*time.Millisecond, func() {
		if err := c.reload(); err != nil {
			c.log.Warn().Err(err).Msg("manifest reload failed, keeping previous catalog")
		} else {
			c.log.Info().Int("widgets", c.Len()).Msg("manifest reloaded")
		}
	})
}

func (c *Catalog) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", c.path, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse manifest %s: %w", c.path, err)
	}
	for id, entry := range doc.Widgets {
		if !types.IsValidWidgetID(id) {
			return fmt.Errorf("manifest %s: %w: %q", c.path, types.ErrInvalidWidgetID, id)
		}
		if entry.BaseURI == "" {
			return fmt.Errorf("manifest %s: widget %q has no base_uri", c.path, id)
		}
	}

	c.mu.Lock()
	c.entries = doc.Widgets
	c.mu.Unlock()
	return nil
}
