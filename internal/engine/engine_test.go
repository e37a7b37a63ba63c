/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/player"
)

const testRate = beep.SampleRate(44100)

type recordSink struct {
	mu     sync.Mutex
	starts int
	stops  int
	frames int
	closed bool
	gate   chan struct{}
}

func (s *recordSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return nil
}

func (s *recordSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *recordSink) Write(samples []float64) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames += len(samples) / 2
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordSink) snapshot() (starts, stops, frames int, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops, s.frames, s.closed
}

func writeWAV(t *testing.T, dir, name string, frames int) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tone := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{0.25, -0.25}
		}
		return len(samples), true
	})
	format := beep.Format{SampleRate: testRate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, beep.Take(frames, tone), format); err != nil {
		t.Fatal(err)
	}
}

func startEngine(t *testing.T, root string, sink Sink) (*Engine, context.CancelFunc, chan struct{}) {
	t.Helper()
	e := New(Config{MediaRoot: root, SampleRate: testRate}, sink, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, cancel, done
}

func nextEvent(t *testing.T, e *Engine) player.Event {
	t.Helper()
	select {
	case ev, ok := <-e.Events():
		if !ok {
			t.Fatal("events closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for engine event")
	}
	return player.Event{}
}

func expectKind(t *testing.T, e *Engine, kind player.EventKind) player.Event {
	t.Helper()
	ev := nextEvent(t, e)
	if ev.Kind != kind {
		t.Fatalf("event = %s, want %s", ev.Kind, kind)
	}
	return ev
}

func TestPlaysTrackToEnd(t *testing.T) {
	root := t.TempDir()
	writeWAV(t, root, "night/Nils Frahm - Says.wav", 2048)

	sink := &recordSink{}
	e, _, _ := startEngine(t, root, sink)

	if err := e.LoadTrack(context.Background(), "night/Nils Frahm - Says.wav", true, 0); err != nil {
		t.Fatal(err)
	}

	changed := expectKind(t, e, player.EventTrackChanged)
	if changed.Metadata.Artist != "Nils Frahm" || changed.Metadata.Title != "Says" {
		t.Fatalf("unexpected metadata %+v", changed.Metadata)
	}
	if started := expectKind(t, e, player.EventStarted); started.PositionMs != 0 {
		t.Fatalf("start position = %d", started.PositionMs)
	}
	ended := expectKind(t, e, player.EventTrackEnded)
	if ended.Track != "night/Nils Frahm - Says.wav" {
		t.Fatalf("ended track = %q", ended.Track)
	}

	starts, stops, frames, _ := sink.snapshot()
	if starts != 1 || stops != 1 || frames != 2048 {
		t.Fatalf("sink starts=%d stops=%d frames=%d", starts, stops, frames)
	}

	if err := e.Play(); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("play after end = %v, want ErrNoTrack", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	root := t.TempDir()
	writeWAV(t, root, "rain.wav", 4096)

	sink := &recordSink{gate: make(chan struct{})}
	e, _, _ := startEngine(t, root, sink)

	if err := e.LoadTrack(context.Background(), "rain.wav", true, 0); err != nil {
		t.Fatal(err)
	}
	expectKind(t, e, player.EventTrackChanged)
	expectKind(t, e, player.EventStarted)

	// The sink thread is now blocked in its first write.
	if err := e.Pause(); err != nil {
		t.Fatal(err)
	}
	close(sink.gate)

	paused := expectKind(t, e, player.EventPaused)
	if paused.PositionMs != 23 {
		t.Fatalf("paused at %d ms, want 23", paused.PositionMs)
	}

	if err := e.Play(); err != nil {
		t.Fatal(err)
	}
	resumed := expectKind(t, e, player.EventStarted)
	if resumed.PositionMs != 23 {
		t.Fatalf("resumed at %d ms, want 23", resumed.PositionMs)
	}
	expectKind(t, e, player.EventTrackEnded)

	starts, stops, frames, _ := sink.snapshot()
	if starts != 2 || stops != 2 || frames != 4096 {
		t.Fatalf("sink starts=%d stops=%d frames=%d", starts, stops, frames)
	}
}

func TestLoadWithoutAutostart(t *testing.T) {
	root := t.TempDir()
	writeWAV(t, root, "waves.wav", 1024)

	sink := &recordSink{}
	e, _, _ := startEngine(t, root, sink)

	if err := e.LoadTrack(context.Background(), "waves.wav", false, 0); err != nil {
		t.Fatal(err)
	}
	expectKind(t, e, player.EventTrackChanged)

	select {
	case ev := <-e.Events():
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	if err := e.Play(); err != nil {
		t.Fatal(err)
	}
	expectKind(t, e, player.EventStarted)
	expectKind(t, e, player.EventTrackEnded)
}

func TestStartPosition(t *testing.T) {
	root := t.TempDir()
	writeWAV(t, root, "brook.wav", 4410)

	sink := &recordSink{}
	e, _, _ := startEngine(t, root, sink)

	if err := e.LoadTrack(context.Background(), "brook.wav", true, 20); err != nil {
		t.Fatal(err)
	}
	expectKind(t, e, player.EventTrackChanged)
	if started := expectKind(t, e, player.EventStarted); started.PositionMs != 20 {
		t.Fatalf("start position = %d, want 20", started.PositionMs)
	}
	expectKind(t, e, player.EventTrackEnded)

	if _, _, frames, _ := sink.snapshot(); frames != 4410-882 {
		t.Fatalf("frames = %d, want %d", frames, 4410-882)
	}
}

func TestStopEmitsStopped(t *testing.T) {
	root := t.TempDir()
	writeWAV(t, root, "hum.wav", 1024)

	e, _, _ := startEngine(t, root, &recordSink{})

	if err := e.LoadTrack(context.Background(), "hum.wav", false, 0); err != nil {
		t.Fatal(err)
	}
	expectKind(t, e, player.EventTrackChanged)

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	expectKind(t, e, player.EventStopped)

	if err := e.Play(); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("play after stop = %v, want ErrNoTrack", err)
	}
}

func TestLoadErrors(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := New(Config{MediaRoot: root, SampleRate: testRate}, &recordSink{}, zerolog.Nop())

	tests := []struct {
		name string
		id   player.TrackID
		want error
	}{
		{name: "missing", id: "nothing.mp3", want: ErrTrackNotFound},
		{name: "unsupported", id: "notes.txt", want: ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.LoadTrack(context.Background(), tt.id, true, 0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRunClosesSinkAndEvents(t *testing.T) {
	sink := &recordSink{}
	e := New(Config{MediaRoot: t.TempDir(), SampleRate: testRate}, sink, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	cancel()
	<-done

	if _, ok := <-e.Events(); ok {
		t.Fatal("expected events to be closed")
	}
	if _, _, _, closed := sink.snapshot(); !closed {
		t.Fatal("expected sink to be closed")
	}
}

func TestTrackMetadata(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "album"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "album", "folder.jpg"), []byte{0xff}, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id   player.TrackID
		want player.Metadata
	}{
		{id: "Brian Eno - An Ending.mp3", want: player.Metadata{Artist: "Brian Eno", Title: "An Ending"}},
		{id: "lullaby.wav", want: player.Metadata{Title: "lullaby"}},
		{id: "album/Max Richter - On the Nature of Daylight.mp3", want: player.Metadata{
			Artist:     "Max Richter",
			Title:      "On the Nature of Daylight",
			ArtworkURL: "/artwork/album/folder.jpg",
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			if got := trackMetadata(root, tt.id); got != tt.want {
				t.Fatalf("metadata = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolvePathStaysInRoot(t *testing.T) {
	tests := map[string]string{
		"a/b.mp3":          "/media/a/b.mp3",
		"../../etc/passwd": "/media/etc/passwd",
		"/abs.wav":         "/media/abs.wav",
	}
	for id, want := range tests {
		if got := resolvePath("/media", id); got != want {
			t.Errorf("resolvePath(%q) = %q, want %q", id, got, want)
		}
	}
}
