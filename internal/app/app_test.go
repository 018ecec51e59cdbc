package app

import (
	"context"
	"testing"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      config.StorageConfig
		want    storage.Config
		wantErr bool
	}{
		{config.StorageConfig{}, storage.Config{Driver: "sqlite", Path: defaultDBPath, BusyTimeout: 5 * time.Second}, false},
		{config.StorageConfig{Driver: "SQLite", Path: "/var/lib/relay.db", BusyTimeout: "2s"}, storage.Config{Driver: "sqlite", Path: "/var/lib/relay.db", BusyTimeout: 2 * time.Second}, false},
		{config.StorageConfig{Driver: "memory"}, storage.Config{Driver: "memory"}, false},
		{config.StorageConfig{Driver: "postgres"}, storage.Config{}, true},
		{config.StorageConfig{BusyTimeout: "soon"}, storage.Config{}, true},
	}
	for _, tc := range tests {
		got, err := mapStorageConfig(&config.Config{Storage: tc.in})
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("mapStorageConfig(%+v) = %+v, %v", tc.in, got, err)
		}
	}
}

func TestMapReportConfigNeedsLogGroup(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Report: config.ReportConfig{Enabled: true, Schedule: "0 8 * * *"}}
	rc, err := mapReportConfig(cfg)
	if err != nil || rc.Enabled {
		t.Fatalf("without group_log: %+v, %v", rc, err)
	}

	cfg.Telegram.GroupLog = "-100555"
	rc, err = mapReportConfig(cfg)
	if err != nil || !rc.Enabled || rc.ChatID != -100555 || rc.Schedule != "0 8 * * *" {
		t.Fatalf("with group_log: %+v, %v", rc, err)
	}

	cfg.Telegram.GroupLog = "logs"
	if _, err := mapReportConfig(cfg); err == nil {
		t.Fatal("non-numeric group_log should fail")
	}
}

func TestMapForwarderConfigDefaults(t *testing.T) {
	t.Parallel()
	fc, err := mapForwarderConfig(&config.Config{Relay: config.RelayConfig{ErrorBackoff: "30s"}})
	if err != nil {
		t.Fatal(err)
	}
	if fc.ForwardDelay != time.Second || fc.ErrorBackoff != 30*time.Second {
		t.Fatalf("got %+v", fc)
	}
}

func TestIngestPublishesNewPosts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	if _, err := relay.NewRegistry(st).AddSource(ctx, -100111); err != nil {
		t.Fatal(err)
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	in := &ingester{cls: relay.NewClassifier(st), bus: bus, log: logx.Nop()}
	post := kit.Message{ID: 7, ChatID: -100111, Caption: "🔖 آگهی شماره #1234"}
	in.handle(ctx, post)
	in.handle(ctx, post)
	in.handle(ctx, kit.Message{ID: 8, ChatID: -100999, Text: "elsewhere"})

	select {
	case e := <-events:
		p, ok := e.Data.(relay.Post)
		if e.Type != eventbus.PostCreated || !ok || p.ID != "1234" {
			t.Fatalf("event = %+v", e)
		}
	default:
		t.Fatal("no post.created event")
	}
	select {
	case e := <-events:
		t.Fatalf("duplicate or foreign post published %+v", e)
	default:
	}
}
