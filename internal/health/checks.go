package health

import (
	"context"
	"fmt"
	"strings"
)

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports whether p answers a ping.
func PingCheck(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return Status{Name: name, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// RegistryCheck reports unhealthy when the bank registry is empty.
func RegistryCheck(count func() int) Checker {
	return func(context.Context) Status {
		n := count()
		if n == 0 {
			return Status{Name: "bank_registry", Detail: "no trusted banks loaded"}
		}
		return Status{Name: "bank_registry", Healthy: true, Detail: fmt.Sprintf("%d banks", n)}
	}
}

// CircuitCheck reports open generative circuits. Open circuits degrade
// answers to the local heuristics but do not make the service unhealthy.
func CircuitCheck(openKeys func() []string) Checker {
	return func(context.Context) Status {
		open := openKeys()
		if len(open) == 0 {
			return Status{Name: "generative_circuits", Healthy: true, Detail: "all closed"}
		}
		return Status{Name: "generative_circuits", Healthy: true, Detail: "degraded: " + strings.Join(open, ", ")}
	}
}
