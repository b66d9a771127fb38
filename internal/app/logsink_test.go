package app

import (
	"context"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/domain"
)

func TestInitLogSink_Memory(t *testing.T) {
	sink, err := initLogSink(context.Background(), DefaultConfig(ServiceLogs), nil, log.WithField("test", "sink"))
	if err != nil {
		t.Fatalf("initLogSink: %v", err)
	}
	if sink.reader == nil || sink.close != nil || sink.ping != nil {
		t.Fatalf("memory sink must be readable without resources: %+v", sink)
	}
	if sink.pruner == nil {
		t.Fatal("memory sink must support retention")
	}

	if err := sink.sink.Append(context.Background(), domain.LogEvent{ID: "1", Level: "info"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	events, err := sink.reader.Recent(context.Background(), 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected stored event, got %v %v", events, err)
	}
	closeLogSink(sink, log.WithField("test", "sink"))
}

func TestInitLogSink_PostgresWithoutStore(t *testing.T) {
	cfg := DefaultConfig(ServiceLogs)
	cfg.LogSink = LogSinkPostgres
	_, err := initLogSink(context.Background(), cfg, &Dependencies{}, log.WithField("test", "sink"))
	if err == nil || !strings.Contains(err.Error(), "store") {
		t.Fatalf("expected missing store error, got %v", err)
	}
}

func TestInitLogSink_RedisUnreachable(t *testing.T) {
	cfg := DefaultConfig(ServiceLogs)
	cfg.LogSink = LogSinkRedis
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sink, err := initLogSink(ctx, cfg, nil, log.WithField("test", "sink"))
	if err != nil {
		t.Fatalf("unreachable redis must not fail startup: %v", err)
	}
	if sink.ping == nil || sink.close == nil || sink.reader == nil {
		t.Fatalf("redis sink must expose ping, close and reader: %+v", sink)
	}
	if sink.pruner != nil {
		t.Fatal("redis stream is trimmed by MAXLEN and needs no pruner")
	}
	if err := sink.ping(ctx); err == nil {
		t.Fatal("ping must report unreachable redis")
	}
	closeLogSink(sink, log.WithField("test", "sink"))
}

func TestInitLogSink_Unknown(t *testing.T) {
	cfg := DefaultConfig(ServiceLogs)
	cfg.LogSink = "file"
	if _, err := initLogSink(context.Background(), cfg, nil, log.WithField("test", "sink")); err == nil {
		t.Fatal("expected error for unknown sink")
	}
}
