package main

import (
	"strings"
	"testing"
)

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "ok"); strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", got)
	}

	noColor = false
	if got := colorize(colorGreen, "ok"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", got)
	}
}

func TestMigrateRequiresBothFlags(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"migrate", "--from-file", t.TempDir()})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("migrate without --to-postgres should fail")
	}
}

func TestQueueStatusRejectsFileBackend(t *testing.T) {
	t.Setenv("RECALL_BACKEND", "file")
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"queue", "status"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("queue status on the file backend should fail")
	}
}
