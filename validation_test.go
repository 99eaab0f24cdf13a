// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package rfb

import "testing"

func TestCheckFramebufferSize(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		height  int
		wantErr string
	}{
		{"typical", 1920, 1080, ""},
		{"single pixel", 1, 1, ""},
		{"at the limit", maxFramebufferDim, maxFramebufferDim, ""},
		{"zero width", 0, 600,
			"rfb protocol: probe: framebuffer dimensions 0x600 must be positive"},
		{"zero height", 800, 0,
			"rfb protocol: probe: framebuffer dimensions 800x0 must be positive"},
		{"negative width", -1, 600,
			"rfb protocol: probe: framebuffer dimensions -1x600 must be positive"},
		{"width beyond the limit", maxFramebufferDim + 1, 600,
			"rfb protocol: probe: framebuffer dimensions 32769x600 exceed the 32768 limit"},
		{"height beyond the limit", 800, 40000,
			"rfb protocol: probe: framebuffer dimensions 800x40000 exceed the 32768 limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFramebufferSize("probe", tt.width, tt.height)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("checkFramebufferSize() error = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("checkFramebufferSize() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCheckRectBounds(t *testing.T) {
	tests := []struct {
		name       string
		x, y, w, h int
		wantErr    string
	}{
		{"fills the framebuffer", 0, 0, 8, 6, ""},
		{"interior", 2, 1, 3, 3, ""},
		{"touches the far corner", 7, 5, 1, 1, ""},
		{"zero size at the far edge", 8, 6, 0, 0, ""},
		{"off the right edge", 7, 0, 2, 1,
			"rfb protocol: probe: rectangle 2x1 at (7, 0) extends beyond the 8x6 framebuffer"},
		{"off the bottom edge", 0, 5, 1, 2,
			"rfb protocol: probe: rectangle 1x2 at (0, 5) extends beyond the 8x6 framebuffer"},
		{"entirely outside", 8, 6, 1, 1,
			"rfb protocol: probe: rectangle 1x1 at (8, 6) extends beyond the 8x6 framebuffer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkRectBounds("probe", tt.x, tt.y, tt.w, tt.h, 8, 6)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("checkRectBounds() error = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("checkRectBounds() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
