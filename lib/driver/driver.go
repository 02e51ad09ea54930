// Copyright 2026 The Streamcap Authors
// SPDX-License-Identifier: Apache-2.0

// Package driver spawns a child process, streams its merged
// stdout/stderr through an Uploader, and publishes any files the child
// writes to its attachments directory through an attachments.Scanner.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/streamcap/streamcap/lib/attachments"
	"github.com/streamcap/streamcap/lib/clock"
)

// AttachmentsEnvVar is the environment variable naming the attachments
// directory in the child's environment.
const AttachmentsEnvVar = "STREAMCAP_ATTACHMENTS_DIR"

// pipeBufferSize is the enlarged pipe buffer requested for the child's
// combined output stream.
const pipeBufferSize = 1 << 20

// tickInterval is how often the main loop wakes to poll the child,
// read available output, and flush.
const tickInterval = 1 * time.Second

// Uploader is the subset of chunkupload.Uploader the driver depends on.
type Uploader interface {
	Write(ctx context.Context, data []byte, final bool) error
}

// Index is the subset of indexedstore.Store the driver depends on: the
// attachments.Index shape for the scanner, plus Sync to flush the
// directory listing once per tick.
type Index interface {
	attachments.Index
	Sync(ctx context.Context) error
}

// Driver spawns and streams one child process.
type Driver struct {
	command      []string
	attachDir    string
	uploader     Uploader
	index        Index
	scanner      *attachments.Scanner
	clk          clock.Clock
	logger       *slog.Logger
	totalRead    int64
	totalWritten int64
}

// New builds a Driver. attachDir is created if it doesn't exist and is
// shared between the spawned child (via AttachmentsEnvVar) and scanner.
func New(command []string, attachDir string, uploader Uploader, index Index, clk clock.Clock, logger *slog.Logger) (*Driver, error) {
	if len(command) == 0 {
		return nil, errors.New("driver: empty command")
	}
	if err := os.MkdirAll(attachDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating attachments directory: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Driver{
		command:   command,
		attachDir: attachDir,
		uploader:  uploader,
		index:     index,
		scanner:   attachments.New(attachDir, index),
		clk:       clk,
		logger:    logger,
	}, nil
}

// Run spawns the child, drives the six-step main loop to completion,
// and returns the exit code to surface from the host process:
// the child's own exit code when it ran and exited nonzero, 0 on a
// fully successful run, or a driver-specific nonzero code if a
// storage write or decode failed.
func (d *Driver) Run(ctx context.Context) (int, error) {
	read, write, err := os.Pipe()
	if err != nil {
		return 1, fmt.Errorf("creating pipe: %w", err)
	}
	defer read.Close()

	if err := setPipeBuffer(write, pipeBufferSize); err != nil {
		d.logger.Warn("could not enlarge pipe buffer", "error", err)
	}
	if err := setNonblocking(read); err != nil {
		write.Close()
		return 1, fmt.Errorf("setting pipe non-blocking: %w", err)
	}

	child := exec.CommandContext(ctx, d.command[0], d.command[1:]...)
	child.Stdin = nil
	child.Stdout = write
	child.Stderr = write
	child.Env = append(os.Environ(), AttachmentsEnvVar+"="+d.attachDir)

	if err := child.Start(); err != nil {
		write.Close()
		return 126, fmt.Errorf("starting child: %w", err)
	}
	write.Close()

	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(signals)
	go forwardSignals(signals, child.Process)

	waitDone := make(chan error, 1)
	go func() { waitDone <- child.Wait() }()

	var waitErr error
	waited := false
	buf := make([]byte, pipeBufferSize)

	for {
		d.clk.Sleep(tickInterval)

		exited := false
		if !waited {
			select {
			case waitErr = <-waitDone:
				waited = true
				exited = true
			default:
			}
		} else {
			exited = true
		}

		n, readErr := readNonblocking(read, buf)
		if readErr != nil {
			return 1, fmt.Errorf("reading child output: %w", readErr)
		}
		d.totalRead += int64(n)

		if err := d.scanner.Scan(ctx); err != nil {
			d.logger.Warn("attachment scan failed", "error", err)
		}

		if err := d.uploader.Write(ctx, buf[:n], exited); err != nil {
			return 1, fmt.Errorf("publishing stream data: %w", err)
		}
		d.totalWritten += int64(n)

		if err := d.index.Sync(ctx); err != nil {
			d.logger.Warn("index sync failed", "error", err)
		}

		d.logger.Info("tick",
			"read_this_tick", humanize.Bytes(uint64(n)),
			"total_read", humanize.Bytes(uint64(d.totalRead)),
			"total_written", humanize.Bytes(uint64(d.totalWritten)),
		)

		if exited {
			break
		}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, fmt.Errorf("waiting for child: %w", waitErr)
	}

	return 0, nil
}

// forwardSignals relays signals received by this process to the child,
// so the operator's Ctrl-C reaches the process actually producing
// output. Delivery errors are ignored: the child may have already
// exited.
func forwardSignals(signals <-chan os.Signal, process *os.Process) {
	for sig := range signals {
		if sysSig, ok := sig.(syscall.Signal); ok {
			_ = process.Signal(sysSig)
		}
	}
}
