package rating

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainrating "github.com/osa030/focuslamp/internal/domain/rating"
)

// replyHook answers every command without touching the network.
type replyHook struct {
	value string
	err   error
}

func (h replyHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h replyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if h.err != nil {
			cmd.SetErr(h.err)
			return h.err
		}
		if c, ok := cmd.(*redis.StringCmd); ok {
			c.SetVal(h.value)
		}
		return nil
	}
}

func (h replyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func newTestSource(t *testing.T, hook redis.Hook) *RedisSource {
	t.Helper()
	src := NewRedisSource(RedisConfig{Addr: "localhost:6379", Key: "focuslamp:rating"})
	src.client.AddHook(hook)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestRedisSource_Latest(t *testing.T) {
	tests := []struct {
		name    string
		hook    replyHook
		want    int
		wantOK  bool
		wantErr bool
	}{
		{name: "rating", hook: replyHook{value: "41"}, want: 41, wantOK: true},
		{name: "padded rating", hook: replyHook{value: " 20\n"}, want: 20, wantOK: true},
		{name: "missing key", hook: replyHook{err: redis.Nil}},
		{name: "non-integer", hook: replyHook{value: "focused"}},
		{name: "server error", hook: replyHook{err: errors.New("LOADING")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newTestSource(t, tt.hook)

			value, ok, err := src.Latest(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domainrating.ErrSourceUnavailable))
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestRedisSource_Unreachable(t *testing.T) {
	src := NewRedisSource(RedisConfig{Addr: "127.0.0.1:1", Key: "focuslamp:rating"})
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, ok, err := src.Latest(ctx)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, domainrating.ErrSourceUnavailable))
}
