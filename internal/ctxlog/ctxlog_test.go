package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWith(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	// --- Act ---
	ctx, logger := With(ctx, "region", 3)
	FromContext(ctx).Info("from context")
	logger.Info("returned")

	// --- Assert ---
	assert.Contains(t, buf.String(), `msg="from context" region=3`)
	assert.Contains(t, buf.String(), "msg=returned region=3")
}

func TestFromContext_Missing(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "ctxlog: logger missing from context", func() {
		FromContext(context.Background())
	})
}
