package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/tradeveda/tradeveda/internal/metrics"
)

// ErrEngineUnavailable indicates the engine binary is missing or disabled
var ErrEngineUnavailable = errors.New("scan engine unavailable")

// ErrInputTooLarge indicates the serialized request exceeds the input cap
var ErrInputTooLarge = errors.New("scan engine input exceeds size limit")

// Client runs the scan engine binary, one process per call.
// At most maxConcurrent invocations run at once; extra callers queue
// on the semaphore in FIFO order.
type Client struct {
	binary        string
	timeout       time.Duration
	maxInputBytes int
	sem           *semaphore.Weighted
}

// Config configures the engine client
type Config struct {
	Binary        string
	Timeout       time.Duration
	MaxInputBytes int
	MaxConcurrent int
}

// NewClient creates a scan engine client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxInputBytes == 0 {
		cfg.MaxInputBytes = 2 << 20
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}

	return &Client{
		binary:        cfg.Binary,
		timeout:       cfg.Timeout,
		maxInputBytes: cfg.MaxInputBytes,
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Available reports whether the engine binary exists and is executable.
// Callers fall back to the LLM path when this is false.
func (c *Client) Available() bool {
	if c == nil || c.binary == "" {
		return false
	}
	info, err := os.Stat(c.binary)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Mode()&0111 != 0
}

// Invoke runs one engine command. The request is a single JSON object on
// stdin; the response envelope arrives on stdout. A non-zero exit or
// unparseable output is an engine failure.
func (c *Client) Invoke(ctx context.Context, command string, data interface{}, out interface{}) error {
	if !c.Available() {
		return ErrEngineUnavailable
	}

	req := Request{Command: command, Data: data}
	input, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal engine request: %w", err)
	}
	if len(input) > c.maxInputBytes {
		return fmt.Errorf("%w: %d bytes", ErrInputTooLarge, len(input))
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire engine slot: %w", err)
	}
	defer c.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.binary)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)
	metrics.RecordEngineCall(command, float64(duration.Milliseconds()), runErr)

	if stderr.Len() > 0 {
		// Stderr is diagnostics only; never part of the protocol.
		log.Debug().
			Str("command", command).
			Str("stderr", stderr.String()).
			Msg("Scan engine diagnostics")
	}

	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("scan engine timed out after %s: %w", c.timeout, runErr)
		}
		return fmt.Errorf("scan engine exited with error: %w", runErr)
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fmt.Errorf("scan engine produced invalid JSON: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("scan engine failure: %s", resp.Error)
	}

	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode engine payload: %w", err)
		}
	}

	log.Debug().
		Str("command", command).
		Dur("duration", duration).
		Int("input_bytes", len(input)).
		Msg("Scan engine invocation completed")

	return nil
}

// Scan runs the deterministic indicator scan over candle series
func (c *Client) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	var result ScanResult
	if err := c.Invoke(ctx, CommandScan, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Risk computes portfolio risk statistics from a returns series
func (c *Client) Risk(ctx context.Context, returns []float64, initialCapital float64) (*RiskReport, error) {
	var report RiskReport
	req := RiskRequest{Returns: returns, InitialCapital: initialCapital}
	if err := c.Invoke(ctx, CommandRisk, req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
