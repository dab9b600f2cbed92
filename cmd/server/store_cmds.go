package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/themis-pm/collab-relay/internal/store/sqlite"
	"github.com/themis-pm/collab-relay/internal/utils"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("schema applied")
		return nil
	},
}

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage collaborative documents",
}

var docCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a document that clients can open over /ws/docs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		content, _ := cmd.Flags().GetString("content")
		if id == "" {
			id = utils.NewID()
		}

		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		doc, err := st.CreateDocument(cmd.Context(), id, title, content)
		if err != nil {
			return fmt.Errorf("create document: %w", err)
		}

		logger.Info().Str("doc_id", doc.ID).Int64("version", doc.Version).Msg("document created")
		fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
		return nil
	},
}

func init() {
	docCreateCmd.Flags().String("id", "", "document id (generated when empty)")
	docCreateCmd.Flags().String("title", "", "document title")
	docCreateCmd.Flags().String("content", "", "initial content")
	docCmd.AddCommand(docCreateCmd)
}
