package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/pageprobe/cmd"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Success", nil, 0},
		{"Interrupted", fmt.Errorf("run interrupted: %w", context.Canceled), 130},
		{"AuditFailed", fmt.Errorf("%w: 1 failed, 0 errored", cmd.ErrAuditFailed), 2},
		{"OtherError", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(func() {
		osWriteFile = os.WriteFile
		osExit = os.Exit
	})

	run := func() (code int) {
		code = -1
		osExit = func(c int) { code = c }
		func() {
			defer handlePanic()
			panic("walker exploded")
		}()
		return code
	}

	t.Run("WritesPanicLog", func(t *testing.T) {
		var path, body string
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			path, body = name, string(data)
			return nil
		}
		code := run()
		assert.Equal(t, 1, code)
		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, body, "panic: walker exploded")
		assert.Contains(t, body, "goroutine")
	})

	t.Run("LogWriteFailureStillExits", func(t *testing.T) {
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		code := run()
		assert.Equal(t, 1, code)
	})

	t.Run("NoPanicNoExit", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }
		func() {
			defer handlePanic()
		}()
		assert.False(t, called)
	})
}
