package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CVCPromptShownField is the per-installation flag recording that the
// one-time CVC hint was displayed.
const CVCPromptShownField = "hasEnterCVCPromptShown"

func flagsKey(scope string) string {
	return "flags:" + scope
}

// FlagStore keeps boolean preferences per installation in a Redis hash.
type FlagStore struct {
	client redis.Cmdable
}

func NewFlagStore(client redis.Cmdable) *FlagStore {
	return &FlagStore{client: client}
}

// Get reports the flag value; an unset flag is false.
func (s *FlagStore) Get(ctx context.Context, scope, name string) (bool, error) {
	v, err := s.client.HGet(ctx, flagsKey(scope), name).Bool()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read flag %s: %w", name, err)
	}
	return v, nil
}

func (s *FlagStore) Set(ctx context.Context, scope, name string, value bool) error {
	if err := s.client.HSet(ctx, flagsKey(scope), name, value).Err(); err != nil {
		return fmt.Errorf("failed to write flag %s: %w", name, err)
	}
	return nil
}
