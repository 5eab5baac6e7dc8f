package core

import (
	"io"
	"strings"
	"testing"
)

func TestCountingReader(t *testing.T) {
	data := strings.Repeat("x", 200)

	tests := []struct {
		name  string
		total int64
		read  int
		want  int
	}{
		{"half", 200, 100, 50},
		{"all", 200, 200, 100},
		{"unknown size", 0, 100, 0},
		{"size understated", 100, 200, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCountingReader(strings.NewReader(data), tt.total)
			if _, err := io.ReadFull(r, make([]byte, tt.read)); err != nil {
				t.Fatalf("read: %v", err)
			}
			if got := r.Percent(); got != tt.want {
				t.Errorf("Percent() = %d, want %d", got, tt.want)
			}
		})
	}
}
