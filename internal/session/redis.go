package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/podflix/internal/logging"
)

const (
	stateKeyPrefix = "podflix:session:"
	runKeyPrefix   = "podflix:run:"
)

// release only deletes the lock it still owns
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis stores state as JSON with a sliding TTL, so several server
// processes can share sessions.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	runTTL time.Duration
}

var log = logging.New("session")

// NewRedis uses ttl for state entries and runTTL as the upper bound of a
// run lock left behind by a crashed process.
func NewRedis(rdb *redis.Client, ttl, runTTL time.Duration) *Redis {
	if runTTL <= 0 {
		runTTL = 10 * time.Minute
	}
	return &Redis{rdb: rdb, ttl: ttl, runTTL: runTTL}
}

func (r *Redis) Get(ctx context.Context, id string) (State, error) {
	raw, err := r.rdb.Get(ctx, stateKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, err
	}
	// sliding expiry
	if err := r.rdb.Expire(ctx, stateKeyPrefix+id, r.ttl).Err(); err != nil {
		log.WithError(err).WithField("session_id", id).Warn("refresh ttl failed")
	}
	return s, nil
}

func (r *Redis) Put(ctx context.Context, s State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, stateKeyPrefix+s.SessionID, raw, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, stateKeyPrefix+id).Err()
}

func (r *Redis) Acquire(ctx context.Context, id string) (func(), error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, runKeyPrefix+id, token, r.runTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be cancelled
			cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(cctx, r.rdb, []string{runKeyPrefix + id}, token).Err(); err != nil {
				log.WithError(err).WithField("session_id", id).Warn("release run lock failed")
			}
		})
	}, nil
}
