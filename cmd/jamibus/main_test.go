package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"testing"

	"tools.zach/dev/jamibus/internal/jami"
	"tools.zach/dev/jamibus/internal/transfers"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	if got := resolveVersion(); got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	// Test binaries may or may not carry VCS info.
	original := version
	defer func() { version = original }()

	version = "dev"
	got := resolveVersion()
	if !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

// ///////////////////////////////////////////////
// pidToken Tests
// ///////////////////////////////////////////////

func TestPidToken_Unique(t *testing.T) {
	a := pidToken()
	b := pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
}

func TestPidToken_Length(t *testing.T) {
	tok := pidToken()
	if len(tok) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(tok))
	}
}

// ///////////////////////////////////////////////
// writePID / removePID Tests
// ///////////////////////////////////////////////

func TestWritePID_FileContainsPID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	// Read through the open handle; on Windows the lock prevents os.ReadFile.
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	data := make([]byte, 256)
	n, err := f.Read(data)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	expected := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if string(data[:n]) != expected {
		t.Errorf("PID file content = %q, want %q", string(data[:n]), expected)
	}
}

func TestWritePID_SecondInstanceFails(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	f, err := writePID(dp, pidToken())
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer removePID(dp, "", f)

	alive, pid := checkStalePID(dp)
	if !alive {
		t.Error("checkStalePID() returned alive=false while the lock is held")
	}
	// Windows locks block reading the file, so the PID is unknown there.
	if runtime.GOOS != "windows" && pid != os.Getpid() {
		t.Errorf("checkStalePID() pid = %d, want %d", pid, os.Getpid())
	}
}

func TestRemovePID_MatchingToken(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}

	removePID(dp, token, f)

	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("PID file should have been removed with matching token")
	}
}

func TestRemovePID_MismatchedToken(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	f, err := writePID(dp, pidToken())
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}

	removePID(dp, "wrong-token", f)

	if _, err := os.Stat(dp.PID()); os.IsNotExist(err) {
		t.Error("PID file should NOT have been removed with mismatched token")
	}
}

func TestRemovePID_NilFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	// Should not panic with a nil file handle.
	removePID(dp, "any-token", nil)
}

// ///////////////////////////////////////////////
// checkStalePID Tests
// ///////////////////////////////////////////////

func TestCheckStalePID_NoFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	alive, pid := checkStalePID(dp)
	if alive || pid != 0 {
		t.Errorf("checkStalePID() = (%v, %d), want (false, 0)", alive, pid)
	}
}

func TestCheckStalePID_StalePID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	// Unlocked file: the owner is gone.
	if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	alive, pid := checkStalePID(dp)
	if alive || pid != 0 {
		t.Errorf("checkStalePID() = (%v, %d), want (false, 0)", alive, pid)
	}
	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("stale PID file should have been removed")
	}
}

// ///////////////////////////////////////////////
// wantConsole Tests
// ///////////////////////////////////////////////

func TestWantConsole(t *testing.T) {
	tests := []struct {
		mode    string
		enabled bool
		tty     bool
		want    bool
		wantErr bool
	}{
		{consoleAuto, true, true, true, false},
		{consoleAuto, true, false, false, false},
		{consoleAuto, false, true, false, false},
		{consoleOn, false, true, true, false},
		{consoleOn, true, false, false, true},
		{consoleOff, true, true, false, false},
		{"sometimes", true, true, false, true},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%s/enabled=%v/tty=%v", tt.mode, tt.enabled, tt.tty)
		t.Run(name, func(t *testing.T) {
			got, err := wantConsole(tt.mode, tt.enabled, tt.tty)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantConsole() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("wantConsole() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// dispatcher Tests
// ///////////////////////////////////////////////

type recordingTransfers struct {
	seen []jami.DataTransferEvent
}

func (r *recordingTransfers) Handle(_ context.Context, ev jami.DataTransferEvent) transfers.Record {
	r.seen = append(r.seen, ev)
	return transfers.Record{ID: ev.ID}
}

type recordingView struct {
	seen   []jami.Event
	quitOn string
}

func (v *recordingView) Handle(_ context.Context, ev jami.Event) bool {
	v.seen = append(v.seen, ev)
	in, ok := ev.(jami.Input)
	return ok && in.Value == v.quitOn
}

func feed(events ...jami.Event) <-chan jami.Event {
	ch := make(chan jami.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestDispatcher_RoutesTransfersAndView(t *testing.T) {
	tr := &recordingTransfers{}
	view := &recordingView{}
	d := &dispatcher{transfers: tr, view: view, stop: jami.NewStopFlag(), log: slog.Default()}

	transfer := jami.DataTransferEvent{AccountID: "acc", ID: 7}
	msg := jami.Message{AccountID: "acc", ConversationID: "conv"}
	d.consume(context.Background(), feed(transfer, msg))

	if len(tr.seen) != 1 || tr.seen[0].ID != 7 {
		t.Errorf("transfers saw %+v, want the one transfer event", tr.seen)
	}
	if len(view.seen) != 2 {
		t.Errorf("view saw %d events, want 2", len(view.seen))
	}
	if d.stop.Stopped() {
		t.Error("stop flag set without a quit")
	}
}

func TestDispatcher_QuitSetsStop(t *testing.T) {
	view := &recordingView{quitOn: "/quit"}
	d := &dispatcher{view: view, stop: jami.NewStopFlag(), log: slog.Default()}

	d.consume(context.Background(), feed(jami.Input{Value: "/quit"}))

	if !d.stop.Stopped() {
		t.Error("quit from the view should set the stop flag")
	}
}

func TestDispatcher_HeadlessLogsDaemonEvents(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	d := &dispatcher{transfers: &recordingTransfers{}, stop: jami.NewStopFlag(), log: log}

	d.consume(context.Background(), feed(
		jami.Resize{},
		jami.Input{Value: "ignored"},
		jami.ConversationReady{AccountID: "acc", ConversationID: "conv"},
	))

	out := buf.String()
	if strings.Count(out, "daemon event") != 1 {
		t.Fatalf("want exactly one logged event, got:\n%s", out)
	}
	if !strings.Contains(out, "type=ConversationReady") {
		t.Errorf("log line missing event type:\n%s", out)
	}
}

func TestEventType(t *testing.T) {
	if got := eventType(jami.AccountsChanged{}); got != "AccountsChanged" {
		t.Errorf("eventType() = %q, want %q", got, "AccountsChanged")
	}
}
