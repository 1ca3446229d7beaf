package redis

// Script results other than OK map onto storage and interval sentinel errors.
const (
	resultOK            = "OK"
	resultNotFound      = "NOT_FOUND"
	resultConflict      = "CONFLICT"
	resultClosed        = "CLOSED"
	resultPrecedingOpen = "PRECEDING_OPEN"
	resultFinalized     = "FINALIZED"
	resultAlready       = "ALREADY"
	resultNotFinal      = "NOT_FINAL"
)

const (
	// appendIntervalScript atomically appends a new interval to its session
	appendIntervalScript = `
local session_key = KEYS[1]    -- studytrack:session:{sessionID}
local list_key = KEYS[2]       -- studytrack:session:{sessionID}:intervals
local interval_key = KEYS[3]   -- studytrack:interval:{intervalID}
local previous_key = KEYS[4]   -- studytrack:interval:{previousID}, or KEYS[3] for the first interval

local interval_id = ARGV[1]
local expected_count = tonumber(ARGV[2])
local previous_id = ARGV[3]
-- ARGV[4..] are the interval's field/value pairs

if redis.call('EXISTS', session_key) == 0 then
  return 'NOT_FOUND'
end

if redis.call('HGET', session_key, 'closed') == '1' then
  return 'CLOSED'
end

local count = tonumber(redis.call('HGET', session_key, 'interval_count') or '0')
if count ~= expected_count then
  return 'CONFLICT'
end

if count > 0 then
  if redis.call('LINDEX', list_key, count - 1) ~= previous_id then
    return 'CONFLICT'
  end
  local previous_status = redis.call('HGET', previous_key, 'status')
  if previous_status ~= 'COMPLETED' and previous_status ~= 'ABANDONED' then
    return 'PRECEDING_OPEN'
  end
end

redis.call('HSET', interval_key, unpack(ARGV, 4))
redis.call('HSET', interval_key, 'version', 1, 'rolled_up', 0)
redis.call('RPUSH', list_key, interval_id)
redis.call('HSET', session_key, 'interval_count', count + 1)

return 'OK'
`

	// updateIntervalScript is a compare-and-set on the interval's version.
	// Finalized intervals leave the live index and join the rollup queue in
	// the same step, so a finalization is never lost from statistics.
	updateIntervalScript = `
local interval_key = KEYS[1]   -- studytrack:interval:{intervalID}
local live_set = KEYS[2]       -- studytrack:intervals:live
local pending_set = KEYS[3]    -- studytrack:rollup:pending

local interval_id = ARGV[1]
local expected_version = ARGV[2]
local live = ARGV[3]
local finalized = ARGV[4]
-- ARGV[5..] are the interval's field/value pairs

local version = redis.call('HGET', interval_key, 'version')
if not version then
  return 'NOT_FOUND'
end

local status = redis.call('HGET', interval_key, 'status')
if status == 'COMPLETED' or status == 'ABANDONED' then
  return 'FINALIZED'
end

if version ~= expected_version then
  return 'CONFLICT'
end

redis.call('HSET', interval_key, unpack(ARGV, 5))
redis.call('HINCRBY', interval_key, 'version', 1)

if live == '1' then
  redis.call('SADD', live_set, interval_id)
else
  redis.call('SREM', live_set, interval_id)
end

if finalized == '1' then
  redis.call('SADD', pending_set, interval_id)
end

return 'OK'
`

	// closeSessionScript marks a session closed exactly once
	closeSessionScript = `
local session_key = KEYS[1]    -- studytrack:session:{sessionID}

local closed_at = ARGV[1]
local cancelled = ARGV[2]

if redis.call('EXISTS', session_key) == 0 then
  return 'NOT_FOUND'
end

if redis.call('HGET', session_key, 'closed') == '1' then
  return 'CLOSED'
end

redis.call('HSET', session_key,
  'closed', 1,
  'closed_at', closed_at,
  'cancelled', cancelled
)

return 'OK'
`

	// applyRollupScript adds a finalized interval to its day, month and year
	// buckets unless the interval already carries the rolled-up marker
	applyRollupScript = `
local interval_key = KEYS[1]   -- studytrack:interval:{intervalID}
local pending_set = KEYS[2]    -- studytrack:rollup:pending
local index_key = KEYS[3]      -- studytrack:stats:index:{userID}
-- KEYS[4..6] are the daily, monthly and yearly bucket keys

local interval_id = ARGV[1]
-- ARGV[2..4] are the granularities and ARGV[5..7] the periods of KEYS[4..6]

local data = redis.call('HMGET', interval_key, 'status', 'rolled_up', 'user_id', 'type', 'duration')
local status = data[1]
if not status then
  redis.call('SREM', pending_set, interval_id)
  return 'NOT_FOUND'
end

if data[2] == '1' then
  redis.call('SREM', pending_set, interval_id)
  return 'ALREADY'
end

if status ~= 'COMPLETED' and status ~= 'ABANDONED' then
  return 'NOT_FINAL'
end

local user_id = data[3]
local interval_type = data[4]
local seconds = tonumber(data[5]) or 0

for i = 0, 2 do
  local bucket_key = KEYS[4 + i]
  redis.call('HSET', bucket_key,
    'user_id', user_id,
    'granularity', ARGV[2 + i],
    'period', ARGV[5 + i]
  )
  redis.call('HINCRBY', bucket_key, 'total_seconds', seconds)
  redis.call('HINCRBY', bucket_key, 'interval_count', 1)
  redis.call('HINCRBY', bucket_key, 'seconds:' .. interval_type, seconds)
  redis.call('HINCRBY', bucket_key, 'count:' .. interval_type, 1)
  redis.call('SADD', index_key, bucket_key)
end

redis.call('HSET', interval_key, 'rolled_up', 1)
redis.call('SREM', pending_set, interval_id)

return 'OK'
`

	// skipRollupScript marks an interval rolled up without touching any bucket
	skipRollupScript = `
local interval_key = KEYS[1]   -- studytrack:interval:{intervalID}
local pending_set = KEYS[2]    -- studytrack:rollup:pending

local interval_id = ARGV[1]

if redis.call('EXISTS', interval_key) == 1 then
  redis.call('HSET', interval_key, 'rolled_up', 1)
end
redis.call('SREM', pending_set, interval_id)

return 'OK'
`
)
