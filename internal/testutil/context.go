package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/specialistvlad/looptune/internal/ctxlog"
)

// LogsEnv enables dumping captured logs of every test when set to "true".
const LogsEnv = "LOOPTUNE_TEST_LOGS"

// Context returns a context carrying a debug logger that writes into a
// buffer. The buffer is dumped through t.Log when the test ends if
// LOOPTUNE_TEST_LOGS=true.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, _ := ContextWithLogs(t)
	return ctx
}

// ContextWithLogs is Context that also returns the captured log buffer.
func ContextWithLogs(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() {
		if LogsEnabled() {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
	return ctxlog.WithLogger(context.Background(), logger), buf
}

// LogsEnabled reports whether captured logs should be dumped.
func LogsEnabled() bool {
	return os.Getenv(LogsEnv) == "true"
}
