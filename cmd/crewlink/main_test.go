package main

import (
	"bytes"
	"strings"
	"testing"
)

// executeCommand runs the root command with the given args and returns stdout, stderr, and error.
func executeCommand(args ...string) (stdout string, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func TestCLICommands(t *testing.T) {
	t.Run("root --help shows usage", func(t *testing.T) {
		out, _, err := executeCommand("--help")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !containsAll(out, "crewlink", "serve", "send", "sync", "conflicts", "tail") {
			t.Errorf("expected root help to list all subcommands, got:\n%s", out)
		}
	})

	t.Run("root --version prints version", func(t *testing.T) {
		out, _, err := executeCommand("--version")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !contains(out, "crewlink") {
			t.Errorf("expected version output to contain 'crewlink', got: %s", out)
		}
	})

	t.Run("send --help shows flags", func(t *testing.T) {
		out, _, err := executeCommand("send", "--help")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !containsAll(out, "--to", "--priority", "--ask", "--deadline") {
			t.Errorf("expected send help to show --to, --priority, --ask, --deadline, got:\n%s", out)
		}
	})

	t.Run("sync --help shows version flag", func(t *testing.T) {
		out, _, err := executeCommand("sync", "--help")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !contains(out, "--version") {
			t.Errorf("expected sync help to show --version flag, got:\n%s", out)
		}
	})

	t.Run("send requires three args", func(t *testing.T) {
		_, _, err := executeCommand("send", "exec-1")
		if err == nil {
			t.Fatal("expected arg count error")
		}
	})

	t.Run("unknown command errors", func(t *testing.T) {
		_, _, err := executeCommand("frobnicate")
		if err == nil {
			t.Fatal("expected error for unknown command")
		}
	})
}
