//go:build !windows

package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerdantVibes/coupon-scraper/internal/artifact"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/validator"
)

// The script plays the external tool: only --coupon=B is accepted.
const toolScript = `#!/bin/sh
code=""
for a in "$@"; do
  case "$a" in
    --coupon=*) code="${a#--coupon=}" ;;
  esac
done
mkdir -p output
sleep 0.05
if [ "$code" = "B" ]; then
  printf '{"couponIsValid": true, "timestamp": "2025-03-01T10:00:00Z", "logs": ["applied %s"]}' "$code" > output/result.json
else
  printf '{"couponIsValid": false, "logs": [{"type": "info", "message": "rejected", "timestamp": "2025-03-01T10:00:00Z"}]}' > output/result.json
fi
`

func TestScheduler_EndToEndWithExternalTool(t *testing.T) {
	t.Parallel()

	script := filepath.Join(t.TempDir(), "validate.sh")
	require.NoError(t, os.WriteFile(script, []byte(toolScript), 0o755))

	corr, err := artifact.NewCorrelator(nil)
	require.NoError(t, err)
	inv, err := validator.NewInvoker(validator.Config{
		Command: "/bin/sh",
		Script:  script,
		Timeout: 10 * time.Second,
	}, nil, corr, nil)
	require.NoError(t, err)

	root := t.TempDir()
	s := New(inv, WithConcurrency(2), WithWorkspaceRoot(root))
	report, err := s.Run(context.Background(), Request{Site: "example.com", Codes: []string{"A", "B", "C"}})
	require.NoError(t, err)

	assert.Equal(t, []entity.ReportEntry{{Code: "B", Site: "example.com"}}, report.Entries)
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.Invalid)
	assert.Equal(t, "1 valid of 3 (33.3%)", report.Summary.String())
	assert.NoDirExists(t, filepath.Join(root, report.RunID.String()))
}
