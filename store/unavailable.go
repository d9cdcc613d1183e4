package store

import (
	"context"
	"time"
)

// UnavailableStore fails every operation with ErrUnavailable. It stands in
// for the real store when Redis is not configured, and lets tests exercise
// the fail-open paths of every consumer.
type UnavailableStore struct{}

var _ Store = UnavailableStore{}

func (UnavailableStore) Incr(context.Context, string) (int64, error) { return 0, ErrUnavailable }

func (UnavailableStore) IncrWindow(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, ErrUnavailable
}

func (UnavailableStore) Get(context.Context, string) (string, bool, error) {
	return "", false, ErrUnavailable
}

func (UnavailableStore) Set(context.Context, string, string, time.Duration) error {
	return ErrUnavailable
}

func (UnavailableStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, ErrUnavailable
}

func (UnavailableStore) Exists(context.Context, string) (bool, error) { return false, ErrUnavailable }
func (UnavailableStore) Del(context.Context, ...string) error         { return ErrUnavailable }

func (UnavailableStore) HIncrBy(context.Context, string, string, int64) (int64, error) {
	return 0, ErrUnavailable
}

func (UnavailableStore) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, ErrUnavailable
}

func (UnavailableStore) HSet(context.Context, string, string, string) error { return ErrUnavailable }
func (UnavailableStore) HDel(context.Context, string, ...string) error      { return ErrUnavailable }

func (UnavailableStore) PushCapped(context.Context, string, string, int64) error {
	return ErrUnavailable
}

func (UnavailableStore) Range(context.Context, string, int64, int64) ([]string, error) {
	return nil, ErrUnavailable
}

func (UnavailableStore) Trim(context.Context, string, int64) error { return ErrUnavailable }

func (UnavailableStore) Ping(context.Context) error { return ErrUnavailable }
func (UnavailableStore) Close() error               { return nil }
