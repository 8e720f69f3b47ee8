package rules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and hot reloading the correlation graph
type Loader struct {
	graphDir   string
	hotReload  bool
	logger     *slog.Logger
	mu         sync.RWMutex
	graph      *Graph
	documents  []GraphDocument
	watchers   []chan struct{}
	debounceMs int
}

// NewLoader creates a new graph loader
func NewLoader(graphDir string, hotReload bool, debounceMs int, logger *slog.Logger) *Loader {
	return &Loader{
		graphDir:   graphDir,
		hotReload:  hotReload,
		logger:     logger,
		debounceMs: debounceMs,
	}
}

// Load reads every enabled graph document in the directory and merges them into one graph.
// The builtin graph is used when the directory is missing or holds no enabled documents.
func (l *Loader) Load() (*Graph, error) {
	l.logger.Info("Loading correlation graph", "graph_dir", l.graphDir)

	files, err := l.readGraphFiles()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Info("Graph directory not found, using builtin graph", "graph_dir", l.graphDir)
			return l.swap(DefaultGraph(), nil), nil
		}
		return nil, fmt.Errorf("failed to read graph files: %w", err)
	}

	var docs []GraphDocument
	for _, file := range files {
		loaded, err := l.loadDocumentsFromFile(file)
		if err != nil {
			l.logger.Warn("Failed to load graph file", "file", file, "error", err)
			continue
		}

		for _, doc := range loaded {
			if !doc.IsEnabled() {
				l.logger.Debug("Skipping disabled graph", "graph_id", doc.Metadata.ID, "file", file)
				continue
			}
			if err := doc.Validate(); err != nil {
				l.logger.Warn("Invalid graph skipped", "graph_id", doc.Metadata.ID, "file", file, "error", err)
				continue
			}
			doc.SourceFile = file
			docs = append(docs, doc)
		}
	}

	if len(docs) == 0 {
		l.logger.Info("No enabled graph documents, using builtin graph", "files", len(files))
		return l.swap(DefaultGraph(), nil), nil
	}

	graph := mergeDocuments(docs)

	l.logger.Info("Correlation graph loaded",
		"documents", len(docs),
		"event_types", len(graph.edges),
		"window", graph.window.String(),
		"version", graph.version)

	return l.swap(graph, docs), nil
}

// Graph returns the current graph, the builtin one before the first load
func (l *Loader) Graph() *Graph {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.graph == nil {
		return DefaultGraph()
	}
	return l.graph
}

// Documents returns a copy of the graph documents behind the current graph
func (l *Loader) Documents() []GraphDocument {
	l.mu.RLock()
	defer l.mu.RUnlock()

	docs := make([]GraphDocument, len(l.documents))
	copy(docs, l.documents)
	return docs
}

// WatchForChanges polls the graph directory until ctx is done, if hot reload is enabled
func (l *Loader) WatchForChanges(ctx context.Context) error {
	if !l.hotReload {
		l.logger.Info("Hot reload disabled")
		return nil
	}

	l.logger.Info("Starting graph file watcher", "graph_dir", l.graphDir)

	reloadChan := make(chan struct{}, 1)
	go l.watchFiles(ctx, reloadChan)
	go l.debouncedReload(ctx, reloadChan)

	return nil
}

// Subscribe returns a channel that receives a notification whenever the graph changes
func (l *Loader) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	l.watchers = append(l.watchers, ch)
	l.mu.Unlock()

	return ch
}

func (l *Loader) swap(graph *Graph, docs []GraphDocument) *Graph {
	l.mu.Lock()
	l.graph = graph
	l.documents = docs
	l.mu.Unlock()

	l.notifyWatchers()
	return graph
}

// mergeDocuments unions the edges of all documents; the last non-zero window wins
func mergeDocuments(docs []GraphDocument) *Graph {
	edges := make(map[string][]string)
	var window time.Duration
	sources := make([]string, 0, len(docs))

	for _, doc := range docs {
		for from, tos := range doc.Spec.Edges {
			edges[from] = append(edges[from], tos...)
		}
		if w := doc.Window(); w > 0 {
			window = w
		}
		sources = append(sources, doc.SourceFile)
	}

	graph := NewGraph(edges, window)
	graph.source = strings.Join(sources, ",")
	graph.version = time.Now().UnixNano()
	return graph
}

// readGraphFiles lists graph files in the directory, sorted by filename
func (l *Loader) readGraphFiles() ([]string, error) {
	var files []string

	err := filepath.WalkDir(l.graphDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isGraphFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// loadDocumentsFromFile parses one document or a list of documents from a YAML file
func (l *Loader) loadDocumentsFromFile(filename string) ([]GraphDocument, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var docs []GraphDocument

	var doc GraphDocument
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Metadata.ID != "" {
		docs = append(docs, doc)
	} else if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	l.logger.Debug("Loaded graph documents from file", "file", filename, "count", len(docs))
	return docs, nil
}

// watchFiles polls for modified graph files
func (l *Loader) watchFiles(ctx context.Context, reloadChan chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastModTime time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		hasChanges := false
		err := filepath.WalkDir(l.graphDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isGraphFile(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.ModTime().After(lastModTime) {
				lastModTime = info.ModTime()
				hasChanges = true
			}
			return nil
		})
		if err != nil {
			l.logger.Error("Error watching graph files", "error", err)
			continue
		}

		if hasChanges {
			l.logger.Info("Graph files changed, triggering reload")
			select {
			case reloadChan <- struct{}{}:
			default:
			}
		}
	}
}

// debouncedReload coalesces bursts of file changes into one reload
func (l *Loader) debouncedReload(ctx context.Context, reloadChan chan struct{}) {
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-reloadChan:
		}

		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(time.Duration(l.debounceMs)*time.Millisecond, func() {
			l.logger.Info("Debounced reload triggered")
			if _, err := l.Load(); err != nil {
				l.logger.Error("Failed to reload graph", "error", err)
			}
		})
	}
}

func (l *Loader) notifyWatchers() {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, ch := range l.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func isGraphFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
