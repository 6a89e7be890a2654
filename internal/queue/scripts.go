package queue

import "github.com/redis/go-redis/v9"

// KEYS: job, lock, active, completed
// ARGV: id, token, return value, finished at (ms), remove on complete
var completeScript = redis.NewScript(`
if redis.call("GET", KEYS[2]) ~= ARGV[2] then
  return -1
end
redis.call("LREM", KEYS[3], 0, ARGV[1])
redis.call("DEL", KEYS[2])
if ARGV[5] == "1" then
  redis.call("DEL", KEYS[1])
else
  redis.call("HSET", KEYS[1], "state", "completed", "return_value", ARGV[3], "finished_at", ARGV[4])
  redis.call("ZADD", KEYS[4], ARGV[4], ARGV[1])
end
return 1
`)

// KEYS: job, lock, active, delayed, failed
// ARGV: id, token, reason, now (ms), permanent
//
// Returns 1 when a retry was scheduled, 0 when the job failed for good and
// -1 when the caller no longer holds the lock.
var failScript = redis.NewScript(`
if redis.call("GET", KEYS[2]) ~= ARGV[2] then
  return -1
end
redis.call("LREM", KEYS[3], 0, ARGV[1])
redis.call("DEL", KEYS[2])
local made = redis.call("HINCRBY", KEYS[1], "attempts_made", 1)
local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts") or "1")
redis.call("HSET", KEYS[1], "failed_reason", ARGV[3])
if ARGV[5] ~= "1" and made < attempts then
  local delay = tonumber(redis.call("HGET", KEYS[1], "backoff_delay") or "0")
  if redis.call("HGET", KEYS[1], "backoff_type") == "exponential" then
    delay = delay * math.pow(2, made - 1)
  end
  redis.call("HSET", KEYS[1], "state", "delayed")
  redis.call("ZADD", KEYS[4], tonumber(ARGV[4]) + delay, ARGV[1])
  return 1
end
redis.call("HSET", KEYS[1], "state", "failed", "finished_at", ARGV[4])
redis.call("ZADD", KEYS[5], ARGV[4], ARGV[1])
return 0
`)

// KEYS: delayed, wait
// ARGV: now (ms), limit, job key prefix
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[1], id)
  redis.call("LPUSH", KEYS[2], id)
  redis.call("HSET", ARGV[3] .. id, "state", "waiting")
end
return #ids
`)

// A job is stalled when it sits in the active list without a lock on two
// consecutive checks. The first check only marks candidates, which leaves
// time for a worker that just moved a job to set its lock. A job that stalls
// more than the allowed number of times is failed instead of requeued.
//
// KEYS: active, stalled, wait, failed
// ARGV: lock key prefix, job key prefix, max stalled count, now (ms), failed reason
//
// Returns the number of requeued jobs followed by the ids of failed ones.
var recoverStalledScript = redis.NewScript(`
local result = {0}
local marked = redis.call("SMEMBERS", KEYS[2])
for _, id in ipairs(marked) do
  if redis.call("EXISTS", ARGV[1] .. id) == 0 then
    if redis.call("LREM", KEYS[1], 0, id) > 0 then
      local jobKey = ARGV[2] .. id
      if redis.call("EXISTS", jobKey) == 1 then
        local stalled = redis.call("HINCRBY", jobKey, "stalled_count", 1)
        if stalled > tonumber(ARGV[3]) then
          redis.call("HSET", jobKey, "state", "failed", "failed_reason", ARGV[5], "finished_at", ARGV[4])
          redis.call("ZADD", KEYS[4], ARGV[4], id)
          table.insert(result, id)
        else
          redis.call("RPUSH", KEYS[3], id)
          redis.call("HSET", jobKey, "state", "waiting")
          result[1] = result[1] + 1
        end
      end
    end
  end
end
redis.call("DEL", KEYS[2])
local active = redis.call("LRANGE", KEYS[1], 0, -1)
for _, id in ipairs(active) do
  if redis.call("EXISTS", ARGV[1] .. id) == 0 then
    redis.call("SADD", KEYS[2], id)
  end
end
return result
`)

// KEYS: lock
// ARGV: token, ttl (ms)
var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
