package cost

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix  = "steward:budget:"
	redisTenantsKey = "steward:budget:tenants"

	fieldMaxCost = "max_cost_per_request"
	fieldBudget  = "monthly_budget_usd"
	fieldSpend   = "current_month_spend"
)

// reserveScript checks both ceilings and increments spend in one server-side
// step. Floats are returned as strings because Lua numbers are truncated to
// integers in replies.
var reserveScript = redis.NewScript(`
local max = tonumber(redis.call('HGET', KEYS[1], 'max_cost_per_request') or '0')
local budget = tonumber(redis.call('HGET', KEYS[1], 'monthly_budget_usd') or '0')
local spend = tonumber(redis.call('HGET', KEYS[1], 'current_month_spend') or '0')
local amount = tonumber(ARGV[1])
if (max > 0 and amount > max) or (budget > 0 and spend + amount > budget) then
  return {0, tostring(max), tostring(budget), tostring(spend)}
end
local updated = redis.call('HINCRBYFLOAT', KEYS[1], 'current_month_spend', ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
return {1, tostring(max), tostring(budget), updated}
`)

// adjustScript applies a delta and clamps spend at zero. The tenant joins the
// tenants set so ResetMonth clears spend recorded without a policy.
var adjustScript = redis.NewScript(`
local spend = tonumber(redis.call('HGET', KEYS[1], 'current_month_spend') or '0') + tonumber(ARGV[1])
if spend < 0 then spend = 0 end
redis.call('HSET', KEYS[1], 'current_month_spend', tostring(spend))
redis.call('SADD', KEYS[2], ARGV[2])
return tostring(spend)
`)

// RedisLedger keeps budgets in Redis hashes so several gateway replicas share
// one ledger.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger wraps an existing client.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

// NewRedisLedgerFromURL parses a redis:// URL, connects and pings.
func NewRedisLedgerFromURL(redisURL string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisLedger(client), nil
}

func budgetKey(tenantID string) string {
	return redisKeyPrefix + tenantID
}

func (l *RedisLedger) Policy(ctx context.Context, tenantID string) (Policy, error) {
	vals, err := l.client.HGetAll(ctx, budgetKey(tenantID)).Result()
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read budget: %w", err)
	}
	if len(vals) == 0 {
		return UnlimitedPolicy(tenantID), nil
	}
	return Policy{
		TenantID:          tenantID,
		MaxCostPerRequest: parseFloat(vals[fieldMaxCost]),
		MonthlyBudget:     parseFloat(vals[fieldBudget]),
		CurrentMonthSpend: parseFloat(vals[fieldSpend]),
	}, nil
}

func (l *RedisLedger) Reserve(ctx context.Context, tenantID string, amount float64) (Policy, error) {
	res, err := reserveScript.Run(ctx, l.client,
		[]string{budgetKey(tenantID), redisTenantsKey},
		strconv.FormatFloat(amount, 'f', -1, 64), tenantID,
	).Slice()
	if err != nil {
		return Policy{}, fmt.Errorf("failed to reserve budget: %w", err)
	}
	if len(res) != 4 {
		return Policy{}, fmt.Errorf("failed to reserve budget: unexpected reply %v", res)
	}
	p := Policy{
		TenantID:          tenantID,
		MaxCostPerRequest: parseFloat(res[1]),
		MonthlyBudget:     parseFloat(res[2]),
		CurrentMonthSpend: parseFloat(res[3]),
	}
	if granted, _ := res[0].(int64); granted == 0 {
		return p, ErrBudgetExceeded
	}
	return p, nil
}

func (l *RedisLedger) Adjust(ctx context.Context, tenantID string, delta float64) error {
	if err := adjustScript.Run(ctx, l.client, []string{budgetKey(tenantID), redisTenantsKey},
		strconv.FormatFloat(delta, 'f', -1, 64), tenantID).Err(); err != nil {
		return fmt.Errorf("failed to adjust budget: %w", err)
	}
	return nil
}

func (l *RedisLedger) SetPolicy(ctx context.Context, p Policy) error {
	pipe := l.client.TxPipeline()
	pipe.HSet(ctx, budgetKey(p.TenantID),
		fieldMaxCost, strconv.FormatFloat(p.MaxCostPerRequest, 'f', -1, 64),
		fieldBudget, strconv.FormatFloat(p.MonthlyBudget, 'f', -1, 64),
	)
	pipe.HSetNX(ctx, budgetKey(p.TenantID), fieldSpend, "0")
	pipe.SAdd(ctx, redisTenantsKey, p.TenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set budget: %w", err)
	}
	return nil
}

func (l *RedisLedger) ResetMonth(ctx context.Context) error {
	tenants, err := l.client.SMembers(ctx, redisTenantsKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}
	if len(tenants) == 0 {
		return nil
	}
	pipe := l.client.Pipeline()
	for _, id := range tenants {
		pipe.HSet(ctx, budgetKey(id), fieldSpend, "0")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to reset monthly spend: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func parseFloat(v interface{}) float64 {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case int64:
		return float64(t)
	default:
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
