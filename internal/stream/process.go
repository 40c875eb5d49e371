/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"bufio"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// diagBufferLines bounds the diagnostic queue so a chatty encoder can
// never block on a full pipe or grow memory without limit.
const diagBufferLines = 256

// EncoderProcess wraps a running external encoder plus the background
// reader draining its stderr into a bounded queue.
type EncoderProcess struct {
	cmd    *exec.Cmd
	diag   chan string
	done   chan struct{} // closed once the process has exited
	logger zerolog.Logger

	waitErr error // valid after done is closed
}

// startEncoder launches bin with args and begins draining stderr.
func startEncoder(bin string, args []string, logger zerolog.Logger) (*EncoderProcess, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stdout = nil

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &EncoderProcess{
		cmd:    cmd,
		diag:   make(chan string, diagBufferLines),
		done:   make(chan struct{}),
		logger: logger,
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			select {
			case p.diag <- scanner.Text():
			default:
				// Queue full: drop the line rather than stall the pipe.
			}
		}
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// Exited reports whether the process has finished.
func (p *EncoderProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the process exit error; only meaningful once Exited
// is true. A nil value means a zero exit code.
func (p *EncoderProcess) ExitErr() error {
	return p.waitErr
}

// Diagnostics drains and returns any pending stderr lines.
func (p *EncoderProcess) Diagnostics() []string {
	var lines []string
	for {
		select {
		case line := <-p.diag:
			lines = append(lines, line)
		default:
			return lines
		}
	}
}

// Stop terminates the encoder: graceful signal first, force kill after
// five seconds. It never returns an error; termination is best effort
// and failures are only logged.
func (p *EncoderProcess) Stop() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn().Interface("panic", r).Msg("encoder stop panicked")
		}
	}()

	select {
	case <-p.done:
		return
	default:
	}

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			p.logger.Debug().Err(err).Msg("encoder interrupt failed")
		}
	}

	select {
	case <-time.After(5 * time.Second):
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				p.logger.Debug().Err(err).Msg("encoder kill failed")
			}
		}
		<-p.done
	case <-p.done:
	}
}
