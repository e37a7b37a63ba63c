/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist resolves playlist ids into ordered track lists, from the
// database or from media-root directories.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wdudokvanheel/care-chords/internal/models"
	"github.com/wdudokvanheel/care-chords/internal/player"
	"github.com/wdudokvanheel/care-chords/internal/telemetry"
)

const tracerName = "carechords/playlist"

// SpotifyPrefix is accepted in front of playlist ids and ignored.
const SpotifyPrefix = "spotify:playlist:"

// ErrPlaylistNotFound is returned when no resolver knows the id.
var ErrPlaylistNotFound = errors.New("playlist not found")

// NormalizeID strips the service prefix from a playlist uri.
func NormalizeID(uri string) string {
	return strings.TrimPrefix(strings.TrimSpace(uri), SpotifyPrefix)
}

// Summary is a playlist listing entry.
type Summary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tracks int    `json:"tracks"`
}

// Store keeps playlists in the database.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a store over an already migrated database.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "playlist_store").Logger()}
}

// Resolve returns the playlist's track ids ordered by position.
func (s *Store) Resolve(ctx context.Context, id string) ([]player.TrackID, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "playlist.resolve", attribute.String("playlist.id", id))
	defer span.End()

	var pl models.Playlist
	err := s.db.WithContext(ctx).
		Preload("Tracks", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&pl, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, id)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load playlist %s: %w", id, err)
	}

	tracks := lo.Map(pl.Tracks, func(t models.PlaylistTrack, _ int) player.TrackID {
		return player.TrackID(t.TrackID)
	})
	span.SetAttributes(attribute.Int("playlist.tracks", len(tracks)))
	return tracks, nil
}

// Import creates or replaces a playlist with tracks in the given order.
func (s *Store) Import(ctx context.Context, id, name string, tracks []string) error {
	id = NormalizeID(id)
	if id == "" {
		return errors.New("playlist id is required")
	}
	if name == "" {
		name = id
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playlist_id = ?", id).Delete(&models.PlaylistTrack{}).Error; err != nil {
			return err
		}
		upsert := clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}
		if err := tx.Clauses(upsert).Create(&models.Playlist{ID: id, Name: name}).Error; err != nil {
			return err
		}
		if len(tracks) == 0 {
			return nil
		}
		rows := lo.Map(tracks, func(track string, i int) models.PlaylistTrack {
			return models.PlaylistTrack{PlaylistID: id, Position: i, TrackID: track}
		})
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("import playlist %s: %w", id, err)
	}

	s.logger.Info().Str("playlist", id).Str("name", name).Int("tracks", len(tracks)).Msg("playlist imported")
	return nil
}

// List returns all stored playlists ordered by id.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	var pls []models.Playlist
	if err := s.db.WithContext(ctx).Preload("Tracks").Order("id ASC").Find(&pls).Error; err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	return lo.Map(pls, func(p models.Playlist, _ int) Summary {
		return Summary{ID: p.ID, Name: p.Name, Tracks: len(p.Tracks)}
	}), nil
}
