package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// One Redis container serves every test in the package.
var (
	redisOnce    sync.Once
	redisURL     string
	redisErr     error
	redisCleanup func()
)

func TestMain(m *testing.M) {
	code := m.Run()
	if redisCleanup != nil {
		redisCleanup()
	}
	os.Exit(code)
}

// startRedis returns REDIS_URL when set, otherwise the URL of a Redis
// testcontainer. Tests skip when Docker is not available.
func startRedis(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("REDIS_URL"); url != "" {
		return url
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	redisOnce.Do(func() {
		ctx := context.Background()
		container, err := tcredis.Run(ctx, "redis:7-alpine")
		if err != nil {
			redisErr = fmt.Errorf("start redis: %w", err)
			return
		}
		redisCleanup = func() { _ = container.Terminate(ctx) }
		endpoint, err := container.Endpoint(ctx, "")
		if err != nil {
			redisErr = fmt.Errorf("redis endpoint: %w", err)
			return
		}
		redisURL = "redis://" + endpoint
	})
	if redisErr != nil {
		t.Fatalf("redis: %v", redisErr)
	}
	return redisURL
}

func setupRedisChannel(t *testing.T) *RedisChannel {
	t.Helper()
	url := startRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := NewRedisChannel(ctx, RedisConfig{
		URL:             url,
		Prefix:          "conductor-test-" + uuid.NewString(),
		ConnectAttempts: 2,
	}, nil)
	if err != nil {
		t.Fatalf("NewRedisChannel: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestRedisChannel_Streams(t *testing.T) {
	ch := setupRedisChannel(t)
	if got := ch.AgentStream("a1"); got != ch.cfg.Prefix+":agent:a1" {
		t.Errorf("AgentStream = %s", got)
	}
	if got := ch.OutcomeStream(); got != ch.cfg.Prefix+":outcomes" {
		t.Errorf("OutcomeStream = %s", got)
	}
}

func TestRedisChannel_RoundTrip(t *testing.T) {
	ch := setupRedisChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assignments := ch.Assignments(ctx, "a1")
	rep := &fakeReporter{}
	go ch.ListenOutcomes(ctx, rep)
	// Readers only see entries added after they look up the stream tail.
	time.Sleep(200 * time.Millisecond)

	if err := ch.Send(ctx, models.Assignment{TaskID: "t1", AssignedAgentID: "a1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case a := <-assignments:
		if a.TaskID != "t1" {
			t.Fatalf("received %+v", a)
		}
	case <-ctx.Done():
		t.Fatal("assignment never arrived")
	}

	if err := ch.Report(ctx, Outcome{Type: OutcomeCompleted, TaskID: "t1", AgentID: "a1", Result: json.RawMessage(`"ok"`)}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	calls := waitForCalls(t, rep, 1)
	if calls[0].kind != "completed" || calls[0].taskID != "t1" || calls[0].detail != `"ok"` {
		t.Errorf("delivered %+v", calls[0])
	}
}

func TestRedisChannel_TailSkipsBacklogAndKeepsUp(t *testing.T) {
	ch := setupRedisChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream := ch.AgentStream("a2")
	if id, err := ch.tailID(ctx, stream); err != nil || id != "0-0" {
		t.Fatalf("tailID of a missing stream = %q, %v, want 0-0", id, err)
	}
	if err := ch.Send(ctx, models.Assignment{TaskID: "old", AssignedAgentID: "a2"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id, err := ch.tailID(ctx, stream); err != nil || id == "0-0" {
		t.Fatalf("tailID after a send = %q, %v", id, err)
	}

	assignments := ch.Assignments(ctx, "a2")
	time.Sleep(200 * time.Millisecond)
	for _, id := range []string{"t1", "t2", "t3"} {
		if err := ch.Send(ctx, models.Assignment{TaskID: id, AssignedAgentID: "a2"}); err != nil {
			t.Fatalf("Send(%s): %v", id, err)
		}
	}

	for _, want := range []string{"t1", "t2", "t3"} {
		select {
		case a := <-assignments:
			if a.TaskID != want {
				t.Fatalf("received %s, want %s", a.TaskID, want)
			}
		case <-ctx.Done():
			t.Fatalf("%s never arrived", want)
		}
	}
}

func TestRedisChannel_ListenOutcomesDeliversFailures(t *testing.T) {
	ch := setupRedisChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rep := &fakeReporter{}
	go ch.ListenOutcomes(ctx, rep)
	time.Sleep(200 * time.Millisecond)

	for _, o := range []Outcome{
		{Type: OutcomeStarted, TaskID: "t9", AgentID: "a1"},
		{Type: OutcomeFailed, TaskID: "t9", AgentID: "a1", Error: "disk full"},
	} {
		if err := ch.Report(ctx, o); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}
	calls := waitForCalls(t, rep, 2)
	if calls[0].kind != "started" || calls[1].kind != "failed" || calls[1].detail != "disk full" {
		t.Errorf("delivered %+v", calls)
	}
}

func TestNewRedisChannel_BadURL(t *testing.T) {
	if _, err := NewRedisChannel(context.Background(), RedisConfig{URL: "not a url"}, nil); err == nil {
		t.Error("expected parse error")
	}
}
