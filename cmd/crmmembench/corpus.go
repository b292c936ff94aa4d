package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/crmmembench/pkg/config"
	"github.com/jingkaihe/crmmembench/pkg/corpus"
	"github.com/jingkaihe/crmmembench/pkg/presenter"
)

var corpusImportDB string

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the filler conversation corpus",
}

var corpusImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import persona JSON files into a SQLite corpus database",
	Long: `Read the conversations directory (one JSON file per persona) and store
every conversation in a SQLite database, which large runs load faster than a
directory of JSON files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, runCorpusImport)
	},
}

func init() {
	corpusImportCmd.Flags().StringVar(&corpusImportDB, "db", "data/corpus.db", "Target SQLite database path")
	corpusCmd.AddCommand(corpusImportCmd)
}

func runCorpusImport(ctx context.Context, cfg *config.Config) error {
	pool, err := corpus.NewDirLoader(cfg.ConversationsDir).Load(ctx)
	if err != nil {
		return err
	}

	store, err := corpus.OpenSQLiteStore(ctx, corpusImportDB)
	if err != nil {
		return err
	}
	defer store.Close()

	total := 0
	for _, personID := range corpus.PersonIDs(pool) {
		if err := store.Put(ctx, personID, pool[personID]); err != nil {
			return err
		}
		total += len(pool[personID])
	}
	presenter.Success(fmt.Sprintf("imported %d conversations for %d personas into %s",
		total, len(pool), corpusImportDB))
	return nil
}
