package main

import "testing"

func TestConfigSource(t *testing.T) {
	if got := configSource(""); got != "configs/config.yaml (可选)" {
		t.Errorf("unexpected default source %q", got)
	}
	if got := configSource("/etc/orderengine.yaml"); got != "/etc/orderengine.yaml" {
		t.Errorf("unexpected explicit source %q", got)
	}
}
