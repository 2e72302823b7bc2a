package health

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func TestDBChecker(t *testing.T) {
	tests := []struct {
		name    string
		checker *DBChecker
		wantErr error
	}{
		{"reachable", NewDBChecker(fakePinger{}), nil},
		{"down", NewDBChecker(fakePinger{err: errBoom}), errBoom},
		{"not configured", NewDBChecker(nil), ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.checker.HealthCheck(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("HealthCheck() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
