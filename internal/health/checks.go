package health

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// PolicyCheck is unhealthy until src holds an oracle.
func PolicyCheck(src oracle.Source) CheckFunc {
	return func(*http.Request) Check {
		h, ok := src.Current()
		if !ok {
			return Check{Status: StatusUnhealthy, Message: "no policy loaded"}
		}
		return Check{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("version %d from %s", h.Version(), h.Source()),
		}
	}
}

// RedisCheck pings client. A failing ping is reported as degraded: the last
// loaded policy keeps serving while Redis is away.
func RedisCheck(client redis.UniversalClient) CheckFunc {
	return func(r *http.Request) Check {
		if err := client.Ping(r.Context()).Err(); err != nil {
			return Check{Status: StatusDegraded, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}
