package install

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeAction struct {
	name string
	err  error
	ran  int
}

func (a *fakeAction) Text() string            { return "do " + a.name }
func (a *fakeAction) Subject() string         { return a.name }
func (a *fakeAction) Ok() string              { return a.name + " ok" }
func (a *fakeAction) Failed(err error) string { return a.name + " failed: " + err.Error() }
func (a *fakeAction) Run() error {
	a.ran++
	return a.err
}

func TestRunnerAdvancesOnSuccess(t *testing.T) {
	a1, a2 := &fakeAction{name: "a1"}, &fakeAction{name: "a2"}
	r := NewRunner([]Action{a1, a2}, nil)

	if r.Done() {
		t.Fatal("should not be done")
	}
	o := r.Run()
	if o.Err != nil || o.Message != "a1 ok" {
		t.Fatalf("got %+v", o)
	}
	o = r.Run()
	if o.Err != nil || o.Message != "a2 ok" {
		t.Fatalf("got %+v", o)
	}
	if !r.Done() {
		t.Fatal("expected Done after both actions ran")
	}
}

func TestRunnerStopsOnFailureAndAllowsRetry(t *testing.T) {
	a1 := &fakeAction{name: "a1"}
	a2 := &fakeAction{name: "a2", err: errors.New("boom")}
	a3 := &fakeAction{name: "a3"}
	r := NewRunner([]Action{a1, a2, a3}, nil)

	outcomes := r.RunAll()
	if len(outcomes) != 2 {
		t.Fatalf("expected to stop at the failing action, got %d outcomes", len(outcomes))
	}
	if outcomes[1].Err == nil {
		t.Fatal("expected second outcome to carry the failure")
	}
	cur, ok := r.Current()
	if !ok || cur != a2 {
		t.Fatal("expected cursor to stay on the failing action")
	}

	a2.err = nil
	o := r.Run()
	if o.Err != nil {
		t.Fatalf("retry should succeed, got %+v", o)
	}
	if a3.ran != 0 {
		t.Fatal("a3 should not have run yet")
	}
	r.Run()
	if !r.Done() {
		t.Fatal("expected Done after retry and final action")
	}
}

func TestRunnerBack(t *testing.T) {
	a1, a2 := &fakeAction{name: "a1"}, &fakeAction{name: "a2"}
	r := NewRunner([]Action{a1, a2}, nil)
	r.Run()
	r.Run()
	if !r.Back() {
		t.Fatal("expected Back to succeed")
	}
	cur, ok := r.Current()
	if !ok || cur != a2 {
		t.Fatal("expected cursor back on a2")
	}
}

func TestVarsExpand(t *testing.T) {
	v := Vars{"dir": "/opt/emrelay", "name": "emrelay"}
	got := v.Expand("%dir%/%name%.conf")
	if got != "/opt/emrelay/emrelay.conf" {
		t.Errorf("got %q", got)
	}
}

func TestMkdirAction(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "path")
	a := &MkdirAction{Path: dir}
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("expected directory at %s", dir)
	}
}

func TestCopyFileAction(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	a := &CopyFileAction{Src: src, Dst: dst}
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestEditSecretsLineActionReplacesMatchingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets")
	initial := "# comment\nserver plain alice old-payload\nserver plain bob bob-payload\n"
	if err := os.WriteFile(path, []byte(initial), 0o600); err != nil {
		t.Fatal(err)
	}
	a := &EditSecretsLineAction{Path: path, Side: "server", Type: "plain", ID: "alice", NewLine: "server plain alice new-payload"}
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(got)
	if !strings.Contains(text, "server plain alice new-payload") {
		t.Errorf("missing replacement line: %q", text)
	}
	if strings.Contains(text, "old-payload") {
		t.Errorf("old line not replaced: %q", text)
	}
	if !strings.Contains(text, "# comment") || !strings.Contains(text, "server plain bob bob-payload") {
		t.Errorf("other lines not preserved: %q", text)
	}
}

func TestEditSecretsLineActionAppendsWhenNoMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets")
	if err := os.WriteFile(path, []byte("server plain bob x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	a := &EditSecretsLineAction{Path: path, Side: "server", Type: "plain", ID: "carol", NewLine: "server plain carol y"}
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if !strings.Contains(string(got), "server plain carol y") {
		t.Errorf("expected appended line, got %q", got)
	}
}

func TestEditSecretsLineActionCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new-secrets")
	a := &EditSecretsLineAction{Path: path, Side: "server", Type: "plain", ID: "alice", NewLine: "server plain alice z"}
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(got)) != "server plain alice z" {
		t.Errorf("got %q", got)
	}
}

func TestWriteStartScriptUnix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emrelay-start.sh")
	a := &WriteStartScriptAction{Path: path, Command: []string{"/usr/sbin/emrelayd", "--no-daemon", "--hidden"}}
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(got)
	if !strings.HasPrefix(text, "#!/bin/sh\n") {
		t.Errorf("missing shebang: %q", text)
	}
	if !strings.Contains(text, "/usr/sbin/emrelayd --no-daemon --hidden") {
		t.Errorf("missing command line: %q", text)
	}
}

func TestWriteStartScriptWindowsQuotesArgsWithSpaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emrelay-start.bat")
	a := &WriteStartScriptAction{
		Path:    path,
		Command: []string{`C:\Program Files\emrelay\emrelayd.exe`, "--no-daemon"},
		Windows: true,
	}
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	text := string(got)
	if !strings.Contains(text, `"C:\Program Files\emrelay\emrelayd.exe"`) {
		t.Errorf("expected quoted path, got %q", text)
	}
	if !strings.HasPrefix(text, "@echo off\r\n") {
		t.Errorf("missing header, got %q", text)
	}
}

func TestGenerateTLSKeyActionReportsHelperFailure(t *testing.T) {
	a := &GenerateTLSKeyAction{Helper: "false"}
	if err := a.Run(); err == nil {
		t.Fatal("expected an error from a failing helper")
	}
}

func TestCreateShortcutAction(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	os.WriteFile(target, []byte("x"), 0o600)
	link := filepath.Join(dir, "menu", "emrelay")
	a := &CreateShortcutAction{Target: target, Link: link}
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	resolved, err := os.Readlink(link)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != target {
		t.Errorf("got %q, want %q", resolved, target)
	}
}
