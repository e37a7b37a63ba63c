/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wdudokvanheel/care-chords/internal/db"
	"github.com/wdudokvanheel/care-chords/internal/playlist"
)

var playlistCmd = &cobra.Command{
	Use:   "playlist",
	Short: "Manage stored playlists",
}

var playlistImportCmd = &cobra.Command{
	Use:   "import <id> <name> <track...>",
	Short: "Store a playlist",
	Long: `Store a playlist under id, replacing any playlist with the same id.

Tracks are paths relative to the media root. A spotify:playlist: prefix on
the id is stripped.

Examples:
  carechords playlist import night "Night music" ambient/one.mp3 ambient/two.mp3
`,
	Args: cobra.MinimumNArgs(3),
	RunE: runPlaylistImport,
}

var playlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored playlists",
	Args:  cobra.NoArgs,
	RunE:  runPlaylistList,
}

func init() {
	playlistCmd.AddCommand(playlistImportCmd)
	playlistCmd.AddCommand(playlistListCmd)
	rootCmd.AddCommand(playlistCmd)
}

func openStore(cmd *cobra.Command) (*playlist.Store, func(), error) {
	if err := loadConfig(cmd); err != nil {
		return nil, nil, err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(database); err != nil {
			logger.Warn().Err(err).Msg("failed to close database")
		}
	}
	if err := db.Migrate(database); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return playlist.NewStore(database, logger), closeDB, nil
}

func runPlaylistImport(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	id, name, tracks := args[0], args[1], args[2:]
	if err := store.Import(context.Background(), id, name, tracks); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s with %d tracks\n", playlist.NormalizeID(id), len(tracks))
	return nil
}

func runPlaylistList(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	list, err := store.List(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRACKS")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\n", p.ID, p.Name, p.Tracks)
	}
	return w.Flush()
}
