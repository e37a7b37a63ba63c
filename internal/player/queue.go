/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import "github.com/samber/lo"

// TrackQueue is the FIFO of tracks still to play.
type TrackQueue struct {
	tracks []TrackID
}

// Replace swaps in a new track list. The queue keeps its own copy.
func (q *TrackQueue) Replace(tracks []TrackID) {
	q.tracks = append([]TrackID(nil), tracks...)
}

// Pop removes and returns the next track.
func (q *TrackQueue) Pop() (TrackID, bool) {
	if len(q.tracks) == 0 {
		return "", false
	}
	next := q.tracks[0]
	q.tracks = q.tracks[1:]
	return next, true
}

// Shuffle randomizes the remaining order.
func (q *TrackQueue) Shuffle() {
	q.tracks = lo.Shuffle(q.tracks)
}

// Clear empties the queue.
func (q *TrackQueue) Clear() {
	q.tracks = nil
}

// Len returns the number of queued tracks.
func (q *TrackQueue) Len() int {
	return len(q.tracks)
}
