package alert

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	err := mgr.SendAlert(Alert{
		Level:   LevelWarning,
		Message: "position limit",
		Fields:  map[string]interface{}{"position": 5.2},
	})
	if err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}
	if mock.Count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.Count())
	}
	a := mock.GetAlerts()[0]
	if a.Level != LevelWarning || a.Message != "position limit" {
		t.Errorf("unexpected alert %+v", a)
	}
	if a.Fields["position"] != 5.2 {
		t.Errorf("field position = %v", a.Fields["position"])
	}
	if a.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestSendAlertLevels(t *testing.T) {
	tests := []struct {
		name   string
		sendFn func(*Manager) error
		want   Level
	}{
		{"info", func(m *Manager) error { return m.SendInfo("a", nil) }, LevelInfo},
		{"warning", func(m *Manager) error { return m.SendWarning("b", nil) }, LevelWarning},
		{"error", func(m *Manager) error { return m.SendError("c", nil) }, LevelError},
		{"critical", func(m *Manager) error { return m.SendCritical("d", nil) }, LevelCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockChannel("mock")
			mgr := NewManager([]Channel{mock}, time.Minute)
			if err := tt.sendFn(mgr); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			if got := mock.GetAlerts()[0].Level; got != tt.want {
				t.Errorf("level = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestThrottlingSkipsCritical(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	for i := 0; i < 3; i++ {
		_ = mgr.SendWarning("same", nil)
		_ = mgr.SendCritical("emergency", nil)
	}
	if mock.Count() != 4 {
		t.Fatalf("expected 1 warning + 3 critical, got %d", mock.Count())
	}
	if mgr.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", mgr.Dropped())
	}

	mgr.ResetThrottle()
	_ = mgr.SendWarning("same", nil)
	if mock.Count() != 5 {
		t.Errorf("warning should pass after reset, got %d", mock.Count())
	}
}

func TestThrottlerInterval(t *testing.T) {
	th := NewThrottler(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	if !th.Allow("k") {
		t.Fatal("first call should pass")
	}
	if th.Allow("k") {
		t.Fatal("second call within interval should be throttled")
	}
	now = now.Add(time.Minute)
	if !th.Allow("k") {
		t.Fatal("call after interval should pass")
	}
	th.Reset("k")
	if !th.Allow("k") {
		t.Fatal("call after reset should pass")
	}
}

func TestMinLevel(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute)
	mgr.SetMinLevel(LevelError)

	_ = mgr.SendInfo("i", nil)
	_ = mgr.SendWarning("w", nil)
	_ = mgr.SendError("e", nil)
	if mock.Count() != 1 {
		t.Errorf("expected only the error alert, got %d", mock.Count())
	}
}

func TestChannelFailures(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	mgr := NewManager([]Channel{bad}, time.Minute)
	if err := mgr.SendError("x", nil); err == nil {
		t.Fatal("expected error when all channels fail")
	}

	good := NewMockChannel("good")
	mgr.AddChannel(good)
	if err := mgr.SendError("y", nil); err != nil {
		t.Fatalf("partial failure should not return error: %v", err)
	}
	if good.Count() != 1 {
		t.Errorf("good channel count = %d", good.Count())
	}

	mgr.RemoveChannel("bad")
	if names := mgr.GetChannels(); len(names) != 1 || names[0] != "good" {
		t.Errorf("channels = %v", names)
	}
}

func TestConsoleChannelFormat(t *testing.T) {
	var buf bytes.Buffer
	ch := NewConsoleChannel("console", &buf)
	err := ch.Send(Alert{
		Level:     LevelCritical,
		Message:   "emergency stop",
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Fields:    map[string]interface{}{"b": 2, "a": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	line := buf.String()
	if !strings.Contains(line, "[CRITICAL]") || !strings.Contains(line, "emergency stop") {
		t.Errorf("unexpected line %q", line)
	}
	if !strings.Contains(line, "a=1 b=2") {
		t.Errorf("fields should be sorted: %q", line)
	}
}

func TestLogChannel(t *testing.T) {
	ch := NewLogChannel("log", nil)
	if ch.Name() != "log" {
		t.Errorf("name = %s", ch.Name())
	}
	if err := ch.Send(Alert{Level: LevelError, Message: "x"}); err != nil {
		t.Errorf("log channel should not fail: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("warn"); err != nil || l != LevelWarning {
		t.Errorf("ParseLevel(warn) = %v, %v", l, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestConcurrentAlerts(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Nanosecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = mgr.SendCritical("c", map[string]interface{}{"i": i})
		}(i)
	}
	wg.Wait()
	if mock.Count() != 20 {
		t.Errorf("expected 20 alerts, got %d", mock.Count())
	}
}
