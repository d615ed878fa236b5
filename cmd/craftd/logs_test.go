package main

import "testing"

func TestStripSectionCodes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no codes", "plain server line", "plain server line"},
		{"single code", "§aGreen text", "Green text"},
		{"multiple codes", "§6[§bServer§6]§r done", "[Server] done"},
		{"trailing marker", "dangling§", "dangling"},
		{"only codes", "§a§b§c", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripSectionCodes(tt.in); got != tt.want {
				t.Errorf("stripSectionCodes(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
