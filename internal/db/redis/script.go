package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/atenea-labs/atenea/internal/db"
)

// Eval runs a Lua script atomically. rueidis caches the script server-side
// via EVALSHA with automatic EVAL fallback.
func (s *Store) Eval(ctx context.Context, script string, keys, args []string) (int64, error) {
	lua := rueidis.NewLuaScript(script)
	n, err := lua.Exec(ctx, s.client, keys, args).AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpEval, Err: err}
	}
	return n, nil
}
