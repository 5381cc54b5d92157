// The scanengine binary is the deterministic indicator engine. It reads a
// single {command, data} JSON object from stdin, runs the command, and
// writes a {success, data, error} envelope to stdout. Diagnostics go to
// stderr only. Exit code 0 means the envelope was produced; a non-zero
// exit or malformed output is treated as an engine failure by the caller.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxInputBytes caps the request size read from stdin
const maxInputBytes = 2 << 20

// request is the inbound wire envelope
type request struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// response is the outbound wire envelope
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := run(os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("Engine run failed")
		os.Exit(1)
	}
}

// run reads one request and writes one response
func run(in io.Reader, out io.Writer) error {
	input, err := io.ReadAll(io.LimitReader(in, maxInputBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(input) > maxInputBytes {
		return writeResponse(out, response{Success: false, Error: "input exceeds 2 MiB limit"})
	}

	var req request
	if err := json.Unmarshal(input, &req); err != nil {
		return writeResponse(out, response{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
	}

	data, err := dispatch(req)
	if err != nil {
		return writeResponse(out, response{Success: false, Error: err.Error()})
	}

	return writeResponse(out, response{Success: true, Data: data})
}

// dispatch routes a command to its handler
func dispatch(req request) (interface{}, error) {
	switch req.Command {
	case "scan", "signals", "advanced_signals":
		var sr scanRequest
		if err := json.Unmarshal(req.Data, &sr); err != nil {
			return nil, fmt.Errorf("invalid scan payload: %v", err)
		}
		return runScan(sr)
	case "risk":
		var rr riskRequest
		if err := json.Unmarshal(req.Data, &rr); err != nil {
			return nil, fmt.Errorf("invalid risk payload: %v", err)
		}
		return runRisk(rr)
	case "backtest":
		var br backtestRequest
		if err := json.Unmarshal(req.Data, &br); err != nil {
			return nil, fmt.Errorf("invalid backtest payload: %v", err)
		}
		return runBacktest(br)
	case "greeks", "iv_surface", "optimize", "walk_forward":
		// Recognized commands with no steady-state caller yet.
		return nil, fmt.Errorf("command not implemented: %s", req.Command)
	default:
		return nil, fmt.Errorf("unknown command: %s", req.Command)
	}
}

// writeResponse serializes the envelope to stdout
func writeResponse(out io.Writer, resp response) error {
	enc := json.NewEncoder(out)
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}
