// Package corpus loads the pool of irrelevant filler conversations used to
// dilute test cases, grouped by the persona they belong to. The corpus is
// loaded once per process and read-only afterwards.
package corpus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/crmmembench/pkg/logger"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// ManifestFile is an optional YAML file inside the conversations directory
// that restricts which personas are loaded.
const ManifestFile = "personas.yaml"

type manifest struct {
	// Include lists persona ids (file stems) to load. Empty means all.
	Include []string `yaml:"include"`
}

func readManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read persona manifest")
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse persona manifest")
	}
	return &m, nil
}

// Loader provides filler conversations grouped by person id.
type Loader interface {
	// Load returns the full corpus. Implementations cache after the first
	// call; the returned map must be treated as read-only.
	Load(ctx context.Context) (map[string][]benchtypes.Conversation, error)
}

// DirLoader reads a directory of JSON files, one file per persona. The file
// stem is the person id; the content is a JSON array of conversations.
type DirLoader struct {
	dir string

	once   sync.Once
	corpus map[string][]benchtypes.Conversation
	err    error
}

// NewDirLoader creates a loader over the given directory.
func NewDirLoader(dir string) *DirLoader {
	return &DirLoader{dir: dir}
}

// Load reads every persona file in the directory. A missing or empty corpus
// is fatal at startup: the benchmark cannot dilute without filler.
func (l *DirLoader) Load(ctx context.Context) (map[string][]benchtypes.Conversation, error) {
	l.once.Do(func() {
		l.corpus, l.err = l.load(ctx)
	})
	return l.corpus, l.err
}

func (l *DirLoader) load(ctx context.Context) (map[string][]benchtypes.Conversation, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, benchtypes.Fatal(errors.Wrapf(benchtypes.ErrNoConversations,
			"cannot read corpus directory %s; generate filler conversations first (crmmembench cases generate)", l.dir))
	}

	m, err := readManifest(l.dir)
	if err != nil {
		return nil, err
	}
	included := make(map[string]bool)
	if m != nil {
		for _, id := range m.Include {
			included[id] = true
		}
	}

	corpus := make(map[string][]benchtypes.Conversation)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if len(included) > 0 && !included[strings.TrimSuffix(entry.Name(), ".json")] {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read persona file %s", path)
		}
		var conversations []benchtypes.Conversation
		if err := json.Unmarshal(data, &conversations); err != nil {
			return nil, errors.Wrapf(err, "failed to parse persona file %s", path)
		}
		for i := range conversations {
			conversations[i].EnsureID()
		}
		personID := strings.TrimSuffix(entry.Name(), ".json")
		corpus[personID] = conversations
	}

	if len(corpus) == 0 {
		return nil, benchtypes.Fatal(errors.Wrapf(benchtypes.ErrNoConversations,
			"corpus directory %s holds no persona files", l.dir))
	}
	for id := range included {
		if _, ok := corpus[id]; !ok {
			return nil, errors.Errorf("persona %s listed in %s has no file in %s",
				id, ManifestFile, l.dir)
		}
	}

	total := 0
	for _, convs := range corpus {
		total += len(convs)
	}
	logger.G(ctx).WithField("persons", len(corpus)).WithField("conversations", total).
		Info("loaded filler corpus")
	return corpus, nil
}

// PersonIDs returns the sorted person ids of a loaded corpus. Sorted so
// uniform sampling is reproducible under a seeded source.
func PersonIDs(corpus map[string][]benchtypes.Conversation) []string {
	ids := make([]string, 0, len(corpus))
	for id := range corpus {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
