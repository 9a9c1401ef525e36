package relay

import (
	"testing"
	"time"
)

func TestNewWSConnWriteTimeout(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero uses default", 0, DefaultWriteTimeout},
		{"negative uses default", -time.Second, DefaultWriteTimeout},
		{"explicit", 3 * time.Second, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewWSConn(nil, tt.in).writeTimeout; got != tt.want {
				t.Errorf("writeTimeout = %v, want %v", got, tt.want)
			}
		})
	}
}
