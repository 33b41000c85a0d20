package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"github.com/ndkramer/one80learn-sub000/internal/config"
	"github.com/ndkramer/one80learn-sub000/internal/integration"
	"github.com/ndkramer/one80learn-sub000/internal/router"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "slidesync.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Sync.JoinRetryInterval = 20 * time.Millisecond
	cfg.Sync.ReconnectInterval = 20 * time.Millisecond
	return cfg
}

// startApp seeds the catalog and serves on an ephemeral port
func startApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	integration.SeedCatalog(t, application.dbManager)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if err := application.Serve(context.Background(), ln); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return application
}

type frame struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	OK   bool            `json:"ok"`
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, application *Application, userID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+application.GetAddr()+"/ws?user_id="+userID, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func call(t *testing.T, ws *websocket.Conn, id, command string, payload interface{}) *frame {
	t.Helper()
	if err := ws.WriteJSON(map[string]interface{}{"id": id, "command": command, "payload": payload}); err != nil {
		t.Fatal(err)
	}
	return readUntil(t, ws, func(f *frame) bool { return f.Type == types.FrameResponse && f.ID == id })
}

func readUntil(t *testing.T, ws *websocket.Conn, match func(*frame) bool) *frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if match(&f) {
			return &f
		}
	}
}

func TestApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = -1

	application, err := NewApplication(cfg)
	if err == nil {
		t.Fatal("Constructor should reject invalid configuration")
	}
	if application != nil {
		t.Error("Constructor should not return application with invalid config")
	}
}

func TestApplication_UnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.Driver = "redis"
	cfg.Feed.RedisAddr = "127.0.0.1:1"

	if _, err := NewApplication(cfg); err == nil {
		t.Fatal("Expected failure when redis is unreachable")
	}
}

func TestApplication_StopBeforeStart(t *testing.T) {
	application, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := application.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
	if err := application.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestApplication_Routes(t *testing.T) {
	application, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = application.Close() })

	server := httptest.NewServer(application.Handler())
	defer server.Close()

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/api/sessions", http.StatusOK},
		{"/api/sessions/missing", http.StatusNotFound},
		{"/ws", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Get(server.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, resp.StatusCode)
		}
	}
}

func TestApplication_EndToEnd(t *testing.T) {
	drivers := map[string]func(*testing.T, *config.Config){
		"memory": func(*testing.T, *config.Config) {},
		"redis": func(t *testing.T, cfg *config.Config) {
			mr := miniredis.RunT(t)
			cfg.Feed.Driver = "redis"
			cfg.Feed.RedisAddr = mr.Addr()
		},
	}

	for name, configure := range drivers {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			configure(t, cfg)
			application := startApp(t, cfg)

			inst := dial(t, application, "inst")
			stu := dial(t, application, "stu")
			call(t, inst, "i", router.CmdInitialize, nil)
			call(t, stu, "i", router.CmdInitialize, nil)

			created := call(t, inst, "c", router.CmdCreateSession, map[string]interface{}{"module_id": "m1", "total_slides": 6})
			if !created.OK {
				t.Fatalf("create_session failed: %+v", created)
			}
			var result struct {
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(created.Data, &result); err != nil {
				t.Fatal(err)
			}

			if f := call(t, stu, "j", router.CmdFindAndJoinActiveSession, map[string]interface{}{"module_id": "m1"}); !f.OK {
				t.Fatalf("find_and_join_active_session failed: %+v", f)
			}
			if f := call(t, inst, "n", router.CmdNavigateToSlide, map[string]interface{}{"slide": 5}); !f.OK {
				t.Fatalf("navigate_to_slide failed: %+v", f)
			}
			readUntil(t, stu, func(f *frame) bool {
				return f.Type == types.FrameSlideChange && string(f.Data) == `{"slide":5}`
			})

			resp, err := http.Get("http://" + application.GetAddr() + "/api/sessions/" + result.SessionID + "/participants")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			var dashboard struct {
				CurrentSlide int             `json:"current_slide"`
				Stats        types.SyncStats `json:"stats"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&dashboard); err != nil {
				t.Fatal(err)
			}
			if dashboard.CurrentSlide != 5 || dashboard.Stats.Participants != 1 {
				t.Errorf("Unexpected dashboard: %+v", dashboard)
			}
		})
	}
}

func TestApplication_RunStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	cfg := testConfig(t)
	cfg.HTTP.Port = port
	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	integration.WaitFor(t, "server accepting", func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
