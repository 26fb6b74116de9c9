package app

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type SeenToucher interface {
	TouchUserSeen(ctx context.Context, userID uint) error
}

// TouchLastSeen updates users.last_seen_at at most once per throttle window
// per user. The window is a redis key set with SETNX.
func TouchLastSeen(users SeenToucher, rdb redis.Cmdable, throttle time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if uid == 0 {
			c.Next()
			return
		}

		key := "user:lastseen:" + strconv.FormatUint(uint64(uid), 10)
		ctx := c.Request.Context()
		if ok, _ := rdb.SetNX(ctx, key, "1", throttle).Result(); ok {
			if err := users.TouchUserSeen(ctx, uid); err != nil {
				log.Printf("touch last seen for user %d: %v", uid, err)
			}
		}
		c.Next()
	}
}
