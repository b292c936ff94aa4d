package corpus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/crmmembench/pkg/logger"
	benchtypes "github.com/jingkaihe/crmmembench/pkg/types/bench"
)

// LoadEvidence reads every evidence file in a directory. Each JSON file
// holds an array of evidence items; files are read in name order so the
// resulting list is stable. A missing or empty directory is fatal at
// startup.
func LoadEvidence(ctx context.Context, dir string) ([]benchtypes.EvidenceItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, benchtypes.Fatal(errors.Wrapf(benchtypes.ErrNoEvidence,
			"cannot read evidence directory %s; generate evidence first", dir))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var items []benchtypes.EvidenceItem
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read evidence file %s", path)
		}
		var loaded []benchtypes.EvidenceItem
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, errors.Wrapf(err, "failed to parse evidence file %s", path)
		}
		for i := range loaded {
			for j := range loaded[i].Conversations {
				loaded[i].Conversations[j].EnsureID()
			}
		}
		items = append(items, loaded...)
	}

	if len(items) == 0 {
		return nil, benchtypes.Fatal(errors.Wrapf(benchtypes.ErrNoEvidence,
			"evidence directory %s holds no evidence files", dir))
	}
	logger.G(ctx).WithField("items", len(items)).WithField("dir", dir).Info("loaded evidence items")
	return items, nil
}
