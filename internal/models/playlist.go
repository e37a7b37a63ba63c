/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Playlist is a named, ordered set of tracks. ID is the id callers load by.
type Playlist struct {
	ID        string          `gorm:"type:varchar(128);primaryKey" json:"id"`
	Name      string          `gorm:"not null" json:"name"`
	Tracks    []PlaylistTrack `gorm:"foreignKey:PlaylistID;constraint:OnDelete:CASCADE" json:"tracks,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PlaylistTrack places one track id at a position within a playlist.
type PlaylistTrack struct {
	PlaylistID string `gorm:"type:varchar(128);primaryKey" json:"playlist_id"`
	Position   int    `gorm:"primaryKey;autoIncrement:false" json:"position"`
	TrackID    string `gorm:"not null" json:"track_id"`
}
