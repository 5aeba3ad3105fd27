package features

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hshadab/rugdetector/internal/metrics"
)

// ErrExtractionTimeout marks an extractor run killed by its deadline.
var ErrExtractionTimeout = errors.New("features: extraction timed out")

// Extractor produces the named feature map for a contract.
type Extractor interface {
	Extract(ctx context.Context, contractAddress, chain string) (map[string]any, error)
}

// Subprocess runs an external extraction script. The script receives
// the contract address and chain as arguments and prints a JSON object
// of named features on stdout. The chain's RPC endpoint is exported to
// the script as RPC_URL and <CHAIN>_RPC_URL environment variables.
type Subprocess struct {
	// Command is the script invocation split into argv, e.g.
	// ["python3", "model/extract_features.py"].
	Command []string
	Timeout time.Duration
	RPCURLs map[string]string
	Logger  *slog.Logger
}

// NewSubprocess parses a space-separated command string into an
// extractor. The address and chain are appended at run time; rpcURLs
// maps chain names to the endpoints the script should query.
func NewSubprocess(command string, timeout time.Duration, rpcURLs map[string]string, logger *slog.Logger) (*Subprocess, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("features: empty extractor command")
	}
	return &Subprocess{Command: argv, Timeout: timeout, RPCURLs: rpcURLs, Logger: logger}, nil
}

func (s *Subprocess) Extract(ctx context.Context, contractAddress, chain string) (map[string]any, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	args := append(append([]string{}, s.Command[1:]...), contractAddress, chain)
	cmd := exec.CommandContext(ctx, s.Command[0], args...)
	cmd.Env = os.Environ()
	if url := s.RPCURLs[chain]; url != "" {
		cmd.Env = append(cmd.Env,
			"RPC_URL="+url,
			strings.ToUpper(chain)+"_RPC_URL="+url,
		)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	metrics.ExtractionDuration.WithLabelValues(chain).Observe(time.Since(start).Seconds())

	if ctx.Err() == context.DeadlineExceeded {
		metrics.ExtractionFailuresTotal.WithLabelValues("timeout").Inc()
		s.Logger.Error("feature extraction timed out",
			"contract", contractAddress,
			"chain", chain,
			"timeout", s.Timeout,
		)
		return nil, ErrExtractionTimeout
	}
	if err != nil {
		metrics.ExtractionFailuresTotal.WithLabelValues("exec").Inc()
		return nil, fmt.Errorf("extractor failed: %w (stderr: %s)", err, truncate(stderr.String(), 512))
	}

	var named map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &named); err != nil {
		metrics.ExtractionFailuresTotal.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("extractor produced invalid JSON: %w", err)
	}

	s.Logger.Debug("features extracted",
		"contract", contractAddress,
		"chain", chain,
		"count", len(named),
		"duration", time.Since(start),
	)
	return named, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Static is a fixed-map extractor for tests and demo deployments
// without a working extraction script.
type Static struct {
	Features map[string]any
	Err      error
}

func (s *Static) Extract(context.Context, string, string) (map[string]any, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Features, nil
}
