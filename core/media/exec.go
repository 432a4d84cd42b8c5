// Package media wraps the yt-dlp binary: metadata resolution and audio download.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"XSlicer/logger"
)

// maxStderr bounds how much process stderr is carried in an error message.
const maxStderr = 2048

// runCommand executes bin with args and returns stdout.
func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	logger.Debug("executing command",
		logger.String("path", bin),
		logger.String("args", strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", bin, ctxErr)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", bin, err, tail(stderr.String()))
	}

	logger.Debug("command finished",
		logger.String("path", bin),
		logger.Duration("elapsed", time.Since(start)))
	return stdout.Bytes(), nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
