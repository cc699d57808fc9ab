package redis

const (
	// addUsageScript atomically increments one field of a site's daily
	// usage hash and maintains the per-date site index and the dates
	// set. Returns the new field value.
	addUsageScript = `
local usage_key = KEYS[1]     -- focusgate:usage:{date}:{siteID}
local index_key = KEYS[2]     -- focusgate:usage:index:{date}
local dates_key = KEYS[3]     -- focusgate:usage:dates

local date = ARGV[1]
local site_id = ARGV[2]
local field = ARGV[3]
local delta = tonumber(ARGV[4])

local total = redis.call('HINCRBY', usage_key, field, delta)

redis.call('SADD', index_key, site_id)
redis.call('SADD', dates_key, date)

return total
`

	// putExtensionScript stores a site's extension for a date and
	// records the date in the dates set, atomically.
	putExtensionScript = `
local day_key = KEYS[1]       -- focusgate:extensions:{date}
local dates_key = KEYS[2]     -- focusgate:extensions:dates

local date = ARGV[1]
local site_id = ARGV[2]
local payload = ARGV[3]

redis.call('HSET', day_key, site_id, payload)
redis.call('SADD', dates_key, date)

return 'OK'
`
)
