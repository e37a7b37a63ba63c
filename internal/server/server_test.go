package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/config"
	"github.com/wdudokvanheel/care-chords/internal/events"
	"github.com/wdudokvanheel/care-chords/internal/player"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Environment:           "test",
		HTTPBind:              "127.0.0.1",
		HTTPPort:              0,
		DBBackend:             config.DatabaseSQLite,
		DBDSN:                 filepath.Join(dir, "carechords.db"),
		MediaRoot:             filepath.Join(dir, "media"),
		SampleRate:            44100,
		BufferMaxBytes:        50000,
		CommandBuffer:         3,
		FailoverInterval:      20 * time.Millisecond,
		SleepFadeSteps:        10,
		SleepFadeStepInterval: 10 * time.Millisecond,
		MetricsEnabled:        true,
		EventBus:              config.EventBusMemory,
	}
}

func writeTrack(t *testing.T, root, id string, frames int) {
	t.Helper()
	path := filepath.Join(root, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	hum := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{0.1, 0.1}
		}
		return len(samples), true
	})
	format := beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, beep.Take(frames, hum), format); err != nil {
		t.Fatal(err)
	}
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func TestServerPlaysDirectoryPlaylist(t *testing.T) {
	cfg := testConfig(t)
	writeTrack(t, cfg.MediaRoot, "night/Hania Rani - Eden.wav", 2*44100)

	srv := startServer(t, cfg)
	base := "http://" + srv.Addr()

	info := srv.bus.Subscribe(events.EventPlaybackInfo)

	resp, err := http.Post(base+"/playlist", "application/json", strings.NewReader(`{"uri":"spotify:playlist:night"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /playlist = %d", resp.StatusCode)
	}

	deadline := time.After(3 * time.Second)
wait:
	for {
		select {
		case payload := <-info:
			if payload["status"] == player.StatePlaying.String() && payload["title"] == "Eden" {
				break wait
			}
		case <-deadline:
			t.Fatalf("never reached Playing, last info %+v", srv.Controller().Info())
		}
	}

	res, err := http.Get(base + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var status map[string]any
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	md, _ := status["metadata"].(map[string]any)
	if md["artist"] != "Hania Rani" {
		t.Fatalf("status = %v", status)
	}
	if got := res.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing, got %q", got)
	}
}

func TestServerRoutes(t *testing.T) {
	srv := startServer(t, testConfig(t))
	base := "http://" + srv.Addr()

	tests := []struct {
		path string
		code int
	}{
		{path: "/healthz", code: http.StatusOK},
		{path: "/metrics", code: http.StatusOK},
		{path: "/playlists", code: http.StatusOK},
		{path: "/nope", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(base + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Fatalf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.code)
			}
		})
	}
}

func TestServerShutdownEndsStatusStream(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/status_stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("shutdown waited for the status stream to time out")
	}
}

func TestNewFailsOnBadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBBackend = "oracle"
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestInfoPayload(t *testing.T) {
	tests := []struct {
		name string
		info player.Info
		want events.Payload
	}{
		{
			name: "stopped",
			info: player.Info{State: player.StateStopped},
			want: events.Payload{"status": "Stopped", "shuffle": false},
		},
		{
			name: "playing with metadata",
			info: player.Info{State: player.StatePlaying, Shuffle: true, Metadata: &player.Metadata{Artist: "A", Title: "T"}},
			want: events.Payload{"status": "Playing", "shuffle": true, "artist": "A", "title": "T", "artwork_url": ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := infoPayload(tt.info)
			if len(got) != len(tt.want) {
				t.Fatalf("payload = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Fatalf("payload[%s] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}
