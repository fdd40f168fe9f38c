package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/looptune/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	path := filepath.Join(t.TempDir(), "session.hcl")
	src := `
workers         = 4
timeout         = "1m30s"
run_concurrency = 2
build_command   = "nvcc -arch=sm_20 @CFLAGS"
baseline        = true
results         = "results.yaml"

log {
  level = "debug"
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	l := NewLoader()

	// --- Act ---
	s, err := l.Load(testutil.Context(t), path)

	// --- Assert ---
	require.NoError(t, err)
	require.NotNil(t, s.Workers)
	assert.Equal(t, 4, *s.Workers)
	require.NotNil(t, s.RunConcurrency)
	assert.Equal(t, 2, *s.RunConcurrency)
	require.NotNil(t, s.BuildCommand)
	assert.Equal(t, "nvcc -arch=sm_20 @CFLAGS", *s.BuildCommand)
	require.NotNil(t, s.Baseline)
	assert.True(t, *s.Baseline)
	assert.Nil(t, s.Repetitions)
	assert.Nil(t, s.RunCommand)
	assert.Nil(t, s.KeepWorkDirs)

	d, err := s.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	require.NotNil(t, s.Log)
	require.NotNil(t, s.Log.Level)
	assert.Equal(t, "debug", *s.Log.Level)
	assert.Nil(t, s.Log.Format)

	assert.Contains(t, l.Files(), path)
}

func TestLoader_Parse_Empty(t *testing.T) {
	t.Parallel()

	// --- Act ---
	s, err := NewLoader().Parse(nil, "empty.hcl")

	// --- Assert ---
	require.NoError(t, err)
	assert.Nil(t, s.Workers)
	assert.Nil(t, s.Log)
	d, err := s.TimeoutDuration()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestLoader_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "syntax error",
			src:     "workers = ",
			wantErr: "failed to parse session file",
		},
		{
			name:    "unknown attribute",
			src:     "threads = 4",
			wantErr: "failed to decode session file",
		},
		{
			name:    "wrong type",
			src:     `workers = "many"`,
			wantErr: "failed to decode session file",
		},
		{
			name:    "bad duration",
			src:     `timeout = "soon"`,
			wantErr: `invalid timeout "soon"`,
		},
		{
			name:    "negative duration",
			src:     `timeout = "-1s"`,
			wantErr: "must not be negative",
		},
		{
			name:    "zero workers",
			src:     "workers = 0",
			wantErr: "workers must be at least 1, got 0",
		},
		{
			name:    "zero repetitions",
			src:     "repetitions = 0",
			wantErr: "repetitions must be at least 1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Act ---
			s, err := NewLoader().Parse([]byte(tc.src), "session.hcl")

			// --- Assert ---
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoader_Load_MissingFile(t *testing.T) {
	t.Parallel()

	// --- Act ---
	_, err := NewLoader().Load(testutil.Context(t), filepath.Join(t.TempDir(), "nope.hcl"))

	// --- Assert ---
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse session file")
}
