package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon-fryslie/ptytest/internal/record"
	"github.com/brandon-fryslie/ptytest/internal/viz"
)

// TestMain points HOME at an empty directory so no user config file is read.
func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "ptytest-home")
	if err != nil {
		panic(err)
	}
	os.Setenv("HOME", home)
	code := m.Run()
	os.RemoveAll(home)
	os.Exit(code)
}

func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err = run(args, nil, &out, &errOut)
	return out.String(), errOut.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	return ee.ExitCode()
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunWithoutCommandPrintsUsage(t *testing.T) {
	_, stderr, err := runCLI(t)
	assert.Equal(t, 2, exitCode(t, err))
	assert.Empty(t, err.Error())
	assert.Contains(t, stderr, "Usage:")
}

func TestRunUnknownCommand(t *testing.T) {
	_, _, err := runCLI(t, "frobnicate")
	assert.Equal(t, 2, exitCode(t, err))
	assert.ErrorContains(t, err, `unknown command "frobnicate"`)
}

func TestVersion(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ptytest dev\n", stdout)
}

func TestCommandHelpIsNotAnError(t *testing.T) {
	_, stderr, err := runCLI(t, "replay", "--help")
	require.NoError(t, err)
	assert.Contains(t, stderr, "--recording")
	assert.Contains(t, stderr, "--cols")
}

func TestInvalidFlagValue(t *testing.T) {
	_, _, err := runCLI(t, "check", "--cols", "0")
	assert.ErrorContains(t, err, "invalid cols")
}

func TestCheckFailsWithoutTmux(t *testing.T) {
	requireSh(t)
	stdout, _, err := runCLI(t, "check", "--tmux-binary", filepath.Join(t.TempDir(), "no-tmux"))
	assert.Equal(t, 1, exitCode(t, err))
	assert.Regexp(t, `FAIL\s+tmux\s+.*not found on PATH`, stdout)
	assert.Regexp(t, `ok\s+shell`, stdout)
	assert.Regexp(t, `ok\s+pty`, stdout)
}

func TestCheckRecordPath(t *testing.T) {
	requireSh(t)
	path := filepath.Join(t.TempDir(), "rec.db")
	stdout, _, _ := runCLI(t, "check", "--record", path)
	assert.Regexp(t, `ok\s+record\s+`+regexp.QuoteMeta(path), stdout)
}

func TestCheckNvimIsOptional(t *testing.T) {
	requireSh(t)
	stdout, _, _ := runCLI(t, "check")
	if _, err := exec.LookPath("nvim"); err != nil {
		assert.Regexp(t, `warn\s+nvim\s+nvim not found on PATH`, stdout)
		return
	}
	assert.Regexp(t, `ok\s+nvim\s+nvim \d+\.\d+`, stdout)
}

func TestWatchPrintsFinalScreenAndExitCode(t *testing.T) {
	requireSh(t)
	stdout, _, err := runCLI(t, "watch", "--no-server", "--print", "--viz-interval", "20ms",
		"--", "sh", "-c", "printf 'hello\\nworld\\n'; exit 3")
	assert.Equal(t, 3, exitCode(t, err))
	assert.Contains(t, stdout, "hello\nworld\n")
}

func TestWatchInTmux(t *testing.T) {
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
	stdout, _, err := runCLI(t, "watch", "--tmux", "--no-server", "--print", "--viz-interval", "20ms",
		"--tmux-socket", "ptytest-cli-test", "--", "sh", "-c", "echo via-tmux; sleep 1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "via-tmux")
}

func TestWatchRecordsAndReplay(t *testing.T) {
	requireSh(t)
	path := filepath.Join(t.TempDir(), "rec.db")
	_, _, err := runCLI(t, "watch", "--no-server", "--record", path, "--viz-interval", "20ms",
		"--name", "greeter", "--", "sh", "-c", "echo recorded-output")
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "replay", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "greeter")
	assert.Contains(t, stdout, "sh -c echo recorded-output")

	db, err := record.Open(context.Background(), path)
	require.NoError(t, err)
	recs, err := record.NewRepo(db.SQL()).List(context.Background())
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.Len(t, recs, 1)
	assert.Equal(t, 0, recs[0].ExitCode)

	stdout, _, err = runCLI(t, "replay", path, "--recording", recs[0].ID, "--last")
	require.NoError(t, err)
	assert.Contains(t, stdout, "recorded-output")
	assert.Contains(t, stdout, "--- exited with code 0")
	assert.Equal(t, 1, strings.Count(stdout, "--- frame"))
}

func seedRecording(t *testing.T, path string) string {
	t.Helper()
	ctx := context.Background()
	db, err := record.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	repo := record.NewRepo(db.SQL())
	start := time.Now().UTC()
	rec := &record.Recording{Name: "seeded", Command: []string{"vim", "notes.txt"}, Cols: 20, Rows: 3, StartedAt: start}
	require.NoError(t, repo.Create(ctx, rec))
	for i, lines := range [][]string{{"first", "", ""}, {"second", "line", ""}} {
		require.NoError(t, repo.AppendFrame(ctx, &record.Frame{
			RecordingID: rec.ID,
			Seq:         i + 1,
			CapturedAt:  start.Add(time.Duration(i+1) * 100 * time.Millisecond),
			Lines:       lines,
			CursorRow:   i,
			CursorCol:   2,
		}))
	}
	require.NoError(t, repo.Finish(ctx, rec.ID, 1))
	return rec.ID
}

func TestReplayListsRecordings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.db")
	id := seedRecording(t, path)

	stdout, _, err := runCLI(t, "replay", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `^ID\s+NAME\s+STARTED\s+DURATION\s+FRAMES\s+EXIT\s+COMMAND$`, lines[0])
	assert.Regexp(t, `^`+id+`\s+seeded\s+.*\s+2\s+1\s+vim notes\.txt$`, lines[1])
}

func TestReplayPrintsFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.db")
	id := seedRecording(t, path)

	stdout, _, err := runCLI(t, "replay", path, "--recording", id)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"--- frame 1 +100ms cursor 0,2",
		"first",
		"--- frame 2 +200ms cursor 1,2",
		"second",
		"line",
		"--- exited with code 1",
		"",
	}, "\n"), stdout)
}

func TestReplayErrors(t *testing.T) {
	_, _, err := runCLI(t, "replay")
	assert.Equal(t, 2, exitCode(t, err))

	_, _, err = runCLI(t, "replay", filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorContains(t, err, "open recordings")

	path := filepath.Join(t.TempDir(), "rec.db")
	seedRecording(t, path)
	_, _, err = runCLI(t, "replay", path, "--recording", "nope")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestViewPrintsFrame(t *testing.T) {
	hub := viz.NewHub("secret", viz.WithThrottle(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	srv := httptest.NewServer(viz.NewHandler(hub))
	defer srv.Close()

	hub.Publish(viz.ScreenMessage{Session: "editor", Lines: []string{"hello", "world  ", ""}})
	require.Eventually(t, func() bool {
		stdout, _, err := runCLI(t, "view", srv.URL, "--viz-token", "secret", "--once")
		return err == nil && stdout == "--- editor\nhello\nworld\n"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestViewUnauthorized(t *testing.T) {
	hub := viz.NewHub("secret")
	srv := httptest.NewServer(viz.NewHandler(hub))
	defer srv.Close()

	_, _, err := runCLI(t, "view", srv.URL, "--viz-token", "wrong")
	assert.ErrorContains(t, err, "unauthorized")
}

func TestPrintLinesTrimsTrailingBlanks(t *testing.T) {
	var b bytes.Buffer
	printLines(&b, []string{"a  ", "", "b", "   ", ""})
	assert.Equal(t, "a\n\nb\n", b.String())
}
