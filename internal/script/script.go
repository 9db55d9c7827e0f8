// Package script holds the Lua sources this module ships to the key-value
// store. Keeping them in one place lets the memory provider recognize and
// emulate exactly this set; anything else is rejected there.
package script

// CompareAndDelete deletes KEYS[1] only when its current value equals ARGV[1].
// Returns 1 when the key was deleted, 0 otherwise. The read, the compare and
// the delete execute as one server-side step, so a holder whose TTL already
// expired can never delete a lock re-acquired by someone else.
const CompareAndDelete = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`
