package bus

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// useTempCache points the socket and pid paths at a private directory.
func useTempCache(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
}

func TestPidFileLifecycle(t *testing.T) {
	useTempCache(t)

	if err := CreatePidFile(); err != nil {
		t.Fatalf("CreatePidFile() error = %v", err)
	}

	path, err := PidPath()
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read pid file: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid file contains %q, want %d", string(data), os.Getpid())
	}

	if err := RemovePidFile(); err != nil {
		t.Fatalf("RemovePidFile() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file should not exist after removal")
	}
}

func TestCheckExistingInstance(t *testing.T) {
	useTempCache(t)

	t.Run("no pid file", func(t *testing.T) {
		if err := CheckExistingInstance(); err != nil {
			t.Errorf("CheckExistingInstance() error = %v, want nil", err)
		}
	})

	t.Run("live process", func(t *testing.T) {
		if err := CreatePidFile(); err != nil {
			t.Fatal(err)
		}
		defer RemovePidFile()

		if err := CheckExistingInstance(); err == nil {
			t.Error("CheckExistingInstance() should fail while this process holds the pid file")
		}
	})

	t.Run("stale pid file", func(t *testing.T) {
		path, err := PidPath()
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("999999"), 0o600); err != nil {
			t.Fatal(err)
		}
		defer os.Remove(path)

		if err := CheckExistingInstance(); err != nil {
			t.Errorf("CheckExistingInstance() error = %v, want nil for a dead pid", err)
		}
	})

	t.Run("garbage pid file", func(t *testing.T) {
		path, err := PidPath()
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("not-a-pid"), 0o600); err != nil {
			t.Fatal(err)
		}
		defer os.Remove(path)

		if err := CheckExistingInstance(); err != nil {
			t.Errorf("CheckExistingInstance() error = %v, want nil for garbage", err)
		}
	})
}

func TestServerCommandRoundTrip(t *testing.T) {
	useTempCache(t)

	stopped := make(chan struct{}, 1)
	server, err := NewServer(Handler{
		Status: func() string { return "state=streaming degraded=false" },
		Stop:   func() { stopped <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	t.Run("status", func(t *testing.T) {
		resp, err := SendCommand('s')
		if err != nil {
			t.Fatalf("SendCommand('s') error = %v", err)
		}
		if !strings.HasPrefix(resp, "STATUS state=streaming") {
			t.Errorf("response = %q, want STATUS prefix with state", resp)
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := SendCommand('v')
		if err != nil {
			t.Fatalf("SendCommand('v') error = %v", err)
		}
		if !strings.Contains(resp, "proto="+ProtoVer) {
			t.Errorf("response = %q, want protocol version %s", resp, ProtoVer)
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		resp, err := SendCommand('x')
		if err != nil {
			t.Fatalf("SendCommand('x') error = %v", err)
		}
		if !strings.HasPrefix(resp, "ERR") {
			t.Errorf("response = %q, want ERR", resp)
		}
	})

	t.Run("stop", func(t *testing.T) {
		resp, err := SendCommand('q')
		if err != nil {
			t.Fatalf("SendCommand('q') error = %v", err)
		}
		if !strings.HasPrefix(resp, "OK") {
			t.Errorf("response = %q, want OK", resp)
		}
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Error("stop handler was not invoked")
		}
	})
}

func TestNewServer_RefusesSecondInstance(t *testing.T) {
	useTempCache(t)

	first, err := NewServer(Handler{Status: func() string { return "" }, Stop: func() {}})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go first.Serve(ctx)

	if _, err := NewServer(Handler{Status: func() string { return "" }, Stop: func() {}}); err == nil {
		t.Error("second NewServer() should fail while the first holds the pid file")
	}

	cancel()
}

func TestSendCommand_NoServer(t *testing.T) {
	useTempCache(t)

	if _, err := SendCommand('s'); err == nil {
		t.Error("SendCommand() should fail when nothing is listening")
	}
}
