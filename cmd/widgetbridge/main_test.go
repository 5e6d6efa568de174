package main

import (
	"testing"
)

func TestRootCommand_Shape(t *testing.T) {
	root := newRootCmd()

	if root.Use != "widgetbridge" {
		t.Errorf("Use = %q", root.Use)
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("--config flag missing")
	}

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Use)
	}
	found := false
	for _, name := range names {
		if name == "serve" {
			found = true
		}
	}
	if !found {
		t.Errorf("serve subcommand missing, have %v", names)
	}
}

func TestServe_BadConfigFails(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", "/nonexistent/widgetbridge.toml"})

	if err := root.Execute(); err == nil {
		t.Error("serve with an unreadable config should fail")
	}
}
