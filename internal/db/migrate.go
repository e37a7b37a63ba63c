/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/wdudokvanheel/care-chords/internal/models"
)

// spotifyPlaylistPrefix marks ids imported from the original service.
const spotifyPlaylistPrefix = "spotify:playlist:"

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Playlist{},
		&models.PlaylistTrack{},
	); err != nil {
		return err
	}

	if err := normalizePlaylistIDs(database); err != nil {
		return err
	}

	return nil
}

// normalizePlaylistIDs strips the service prefix from ids stored verbatim
// by older imports so they match the ids the control surface loads.
func normalizePlaylistIDs(database *gorm.DB) error {
	var ids []string
	if err := database.Model(&models.Playlist{}).
		Where("id LIKE ?", spotifyPlaylistPrefix+"%").
		Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("normalize playlist ids query: %w", err)
	}

	for _, id := range ids {
		bare := strings.TrimPrefix(id, spotifyPlaylistPrefix)
		err := database.Transaction(func(tx *gorm.DB) error {
			var existing int64
			if err := tx.Model(&models.Playlist{}).Where("id = ?", bare).Count(&existing).Error; err != nil {
				return err
			}
			if existing == 0 {
				var old models.Playlist
				if err := tx.First(&old, "id = ?", id).Error; err != nil {
					return err
				}
				if err := tx.Create(&models.Playlist{ID: bare, Name: old.Name}).Error; err != nil {
					return err
				}
				if err := tx.Model(&models.PlaylistTrack{}).Where("playlist_id = ?", id).Update("playlist_id", bare).Error; err != nil {
					return err
				}
			} else if err := tx.Where("playlist_id = ?", id).Delete(&models.PlaylistTrack{}).Error; err != nil {
				return err
			}
			return tx.Where("id = ?", id).Delete(&models.Playlist{}).Error
		})
		if err != nil {
			return fmt.Errorf("normalize playlist %s: %w", id, err)
		}
	}

	return nil
}
