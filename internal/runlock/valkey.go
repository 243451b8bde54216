package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

const valkeyKeyPrefix = "runlock:"

// ValkeyLock implements the lock contract on Valkey's SET NX PX. The key TTL
// is the staleness window: a crashed holder's lock simply expires.
type ValkeyLock struct {
	client valkey.Client
	owner  string
	ttl    time.Duration
}

var _ Substrate = (*ValkeyLock)(nil)

// NewValkeyLock connects to Valkey and verifies the connection.
func NewValkeyLock(address, password string, ttl time.Duration) (*ValkeyLock, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{address},
		Password:         password,
		ConnWriteTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	return &ValkeyLock{client: client, owner: uuid.NewString(), ttl: ttl}, nil
}

// TryAcquire races SET NX PX; the TTL doubles as the staleness auto-clear.
func (l *ValkeyLock) TryAcquire(ctx context.Context, name string) (bool, error) {
	resp := l.client.Do(ctx, l.client.B().Set().
		Key(valkeyKeyPrefix+name).
		Value(l.owner).
		Nx().
		Px(l.ttl).
		Build())

	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			// SET NX answered nil: someone else holds the key.
			return false, nil
		}
		return false, fmt.Errorf("set lock key: %w", err)
	}
	return true, nil
}

// Release deletes the key unconditionally.
func (l *ValkeyLock) Release(ctx context.Context, name string) error {
	if err := l.client.Do(ctx, l.client.B().Del().Key(valkeyKeyPrefix+name).Build()).Error(); err != nil {
		return fmt.Errorf("delete lock key: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (l *ValkeyLock) Close() {
	l.client.Close()
}
