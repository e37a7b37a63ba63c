package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/wdudokvanheel/care-chords/internal/auth"
	"github.com/wdudokvanheel/care-chords/internal/mixer"
	"github.com/wdudokvanheel/care-chords/internal/player"
	"github.com/wdudokvanheel/care-chords/internal/playlist"
	"github.com/wdudokvanheel/care-chords/internal/sleep"
)

type fakeEngine struct {
	events chan player.Event
	mu     sync.Mutex
	loaded []player.TrackID
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan player.Event, 64)}
}

func (e *fakeEngine) LoadTrack(_ context.Context, id player.TrackID, autostart bool, _ uint32) error {
	e.mu.Lock()
	e.loaded = append(e.loaded, id)
	e.mu.Unlock()
	e.events <- player.Event{Kind: player.EventTrackChanged, Track: id, Metadata: player.Metadata{Title: string(id)}}
	if autostart {
		e.events <- player.Event{Kind: player.EventStarted, Track: id}
	}
	return nil
}

func (e *fakeEngine) Play() error {
	e.events <- player.Event{Kind: player.EventStarted}
	return nil
}

func (e *fakeEngine) Pause() error {
	e.events <- player.Event{Kind: player.EventPaused}
	return nil
}

func (e *fakeEngine) Events() <-chan player.Event { return e.events }

type mapResolver map[string][]player.TrackID

func (m mapResolver) Resolve(_ context.Context, id string) ([]player.TrackID, error) {
	tracks, ok := m[id]
	if !ok {
		return nil, playlist.ErrPlaylistNotFound
	}
	return tracks, nil
}

type stubLister struct {
	list []playlist.Summary
	err  error
}

func (s stubLister) List(context.Context) ([]playlist.Summary, error) { return s.list, s.err }

type harness struct {
	srv    *httptest.Server
	ctl    *player.Controller
	engine *fakeEngine
	stop   func()
}

type harnessOptions struct {
	secret    []byte
	lister    PlaylistLister
	mediaRoot string
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	eng := newFakeEngine()
	resolver := mapResolver{"night": {"a.mp3", "b.mp3"}}
	timer := sleep.NewTimer(mixer.NewVolume(1), zerolog.Nop())
	ctl := player.New(eng, resolver, timer, player.Config{Fade: sleep.DefaultFadeConfig()}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go ctl.Run(ctx)
	stop := func() {
		cancel()
		<-ctl.Done()
	}

	r := chi.NewRouter()
	New(ctl, opts.lister, opts.mediaRoot, opts.secret, zerolog.Nop()).Routes(r)
	srv := httptest.NewServer(r)
	// Cleanups run in reverse: stopping the controller first ends open streams.
	t.Cleanup(srv.Close)
	t.Cleanup(stop)

	return &harness{srv: srv, ctl: ctl, engine: eng, stop: stop}
}

func (h *harness) post(t *testing.T, path, body, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestControlRoutes(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp, body := h.post(t, "/playlist", `{"uri":"spotify:playlist:night"}`, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("playlist: %d %v", resp.StatusCode, body)
	}
	waitFor(t, "playing", func() bool {
		info := h.ctl.Info()
		return info.State == player.StatePlaying && info.Metadata != nil && info.Metadata.Title == "a.mp3"
	})

	tests := []struct {
		path   string
		status string
		state  player.State
	}{
		{path: "/pause", status: "paused", state: player.StatePaused},
		{path: "/play", status: "playing", state: player.StatePlaying},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := h.post(t, tt.path, "", "")
			if resp.StatusCode != http.StatusOK || body["status"] != tt.status {
				t.Fatalf("%s: %d %v", tt.path, resp.StatusCode, body)
			}
			waitFor(t, tt.state.String(), func() bool { return h.ctl.Info().State == tt.state })
		})
	}

	resp, body = h.post(t, "/next", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "success" {
		t.Fatalf("next: %d %v", resp.StatusCode, body)
	}
	waitFor(t, "second track", func() bool {
		md := h.ctl.Info().Metadata
		return md != nil && md.Title == "b.mp3"
	})
}

func TestInvalidBodies(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	tests := []struct {
		path string
		body string
	}{
		{path: "/playlist", body: `{}`},
		{path: "/playlist", body: `{"uri":"spotify:playlist:"}`},
		{path: "/playlist", body: `{bad`},
		{path: "/sleep", body: `{}`},
		{path: "/sleep", body: `{"timer":-5}`},
		{path: "/shuffle", body: `{"shuffle":"yes"}`},
		{path: "/shuffle", body: ``},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.body, func(t *testing.T) {
			resp, body := h.post(t, tt.path, tt.body, "")
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%v)", resp.StatusCode, body)
			}
			if body["error"] == nil {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}
}

func TestShuffleReturnsUpdatedInfo(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	for _, want := range []bool{true, true, false} {
		resp, body := h.post(t, "/shuffle", `{"shuffle":`+boolString(want)+`}`, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if body["shuffle"] != want || body["status"] != "Stopped" {
			t.Fatalf("body = %v, want shuffle %v", body, want)
		}
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestSleepTimer(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp, body := h.post(t, "/sleep", `{"timer":600}`, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("sleep: %d %v", resp.StatusCode, body)
	}
	waitFor(t, "sleep deadline", func() bool { return !h.ctl.Info().SleepDeadline.IsZero() })

	status := getJSON(t, h.srv.URL+"/status")
	secs, ok := status["sleep_timer"].(float64)
	if !ok || secs < 599 || secs > 600 {
		t.Fatalf("sleep_timer = %v", status["sleep_timer"])
	}

	h.post(t, "/sleep", `{"timer":0}`, "")
	waitFor(t, "sleep cleared", func() bool { return h.ctl.Info().SleepDeadline.IsZero() })
	if _, ok := getJSON(t, h.srv.URL+"/status")["sleep_timer"]; ok {
		t.Fatal("sleep_timer should be omitted once cancelled")
	}
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestStatus(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	got := getJSON(t, h.srv.URL+"/status")
	if got["status"] != "Stopped" || got["shuffle"] != false {
		t.Fatalf("status = %v", got)
	}
	if _, ok := got["metadata"]; ok {
		t.Fatal("metadata should be omitted before a track loads")
	}

	if health := getJSON(t, h.srv.URL+"/healthz"); health["status"] != "ok" {
		t.Fatalf("healthz = %v", health)
	}
}

func TestControlRequiresToken(t *testing.T) {
	secret := []byte("bedroom")
	h := newHarness(t, harnessOptions{secret: secret})

	resp, _ := h.post(t, "/play", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("without token: %d", resp.StatusCode)
	}

	token, err := auth.Issue(secret, "nightstand", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	resp, _ = h.post(t, "/play", "", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with token: %d", resp.StatusCode)
	}

	// Reads stay open.
	if got := getJSON(t, h.srv.URL+"/status"); got["status"] == nil {
		t.Fatalf("status without token = %v", got)
	}
}

func TestClosedControllerIsUnavailable(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.stop()

	resp, body := h.post(t, "/play", "", "")
	if resp.StatusCode != http.StatusServiceUnavailable || body["error"] != "player_unavailable" {
		t.Fatalf("play after close: %d %v", resp.StatusCode, body)
	}

	res, err := http.Get(h.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz after close: %d", res.StatusCode)
	}
}

func readEvent(t *testing.T, r *bufio.Reader) map[string]any {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		return out
	}
}

func TestStatusStream(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/status_stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	reader := bufio.NewReader(resp.Body)

	if first := readEvent(t, reader); first["status"] != "Stopped" {
		t.Fatalf("initial event = %v", first)
	}

	h.post(t, "/shuffle", `{"shuffle":true}`, "")
	if next := readEvent(t, reader); next["shuffle"] != true {
		t.Fatalf("next event = %v", next)
	}
}

func TestStatusStreamEndsWithController(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/status_stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readEvent(t, reader)

	h.stop()
	if _, err := io.ReadAll(reader); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stream did not end cleanly: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("stream stayed open after the controller stopped")
	}
}

func TestStatusSocket(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(h.srv.URL, "http")+"/ws/status", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	read := func() map[string]any {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		return out
	}

	if first := read(); first["status"] != "Stopped" {
		t.Fatalf("initial message = %v", first)
	}

	h.post(t, "/playlist", `{"uri":"night"}`, "")
	for {
		msg := read()
		if msg["status"] == "Playing" {
			md, _ := msg["metadata"].(map[string]any)
			if md["title"] != "a.mp3" {
				t.Fatalf("metadata = %v", msg["metadata"])
			}
			return
		}
	}
}

func TestPlaylists(t *testing.T) {
	tests := []struct {
		name   string
		lister PlaylistLister
		code   int
		want   string
	}{
		{name: "no store", code: http.StatusOK, want: "[]"},
		{name: "listed", lister: stubLister{list: []playlist.Summary{{ID: "night", Name: "Night", Tracks: 2}}}, code: http.StatusOK, want: `[{"id":"night","name":"Night","tracks":2}]`},
		{name: "store error", lister: stubLister{err: errors.New("locked")}, code: http.StatusInternalServerError, want: `{"error":"db_error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{lister: tt.lister})
			resp, err := http.Get(h.srv.URL + "/playlists")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.code || strings.TrimSpace(string(body)) != tt.want {
				t.Fatalf("got %d %s, want %d %s", resp.StatusCode, body, tt.code, tt.want)
			}
		})
	}
}

func TestArtwork(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "album"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "album", "cover.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "album", "track.mp3"), []byte("mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, harnessOptions{mediaRoot: root})

	tests := []struct {
		path string
		code int
	}{
		{path: "/artwork/album/cover.jpg", code: http.StatusOK},
		{path: "/artwork/album/track.mp3", code: http.StatusNotFound},
		{path: "/artwork/album/missing.png", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(h.srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.code)
			}
		})
	}
}
