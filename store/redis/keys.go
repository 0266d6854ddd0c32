package redis

// Redis key naming conventions for waypoint data.
// All keys are prefixed with "waypoint:" to avoid collisions.

const keyPrefix = "waypoint:"

// instanceKey returns the Hash key for an instance: waypoint:instance:{id}.
// Fields: "data" (msgpack envelope blob) and "payload_type".
func instanceKey(id string) string { return keyPrefix + "instance:" + id }

// instanceIDsKey is the Set tracking all instance IDs for enumeration.
const instanceIDsKey = keyPrefix + "instance_ids"

// statusKey returns the Set of instance IDs in a status:
// waypoint:status:{status}
func statusKey(status string) string { return keyPrefix + "status:" + status }

// waitingKey returns the Set of instance IDs waiting on a signal:
// waypoint:waiting:{signal}
func waitingKey(signal string) string { return keyPrefix + "waiting:" + signal }
