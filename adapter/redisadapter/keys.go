package redisadapter

import "strings"

// Key and channel layout. Membership keys carry a TTL of three heartbeat
// intervals and are refreshed by the registration heartbeat, so entries
// from a dead server disappear on their own.
//
//	<prefix>:room:<room>:<peerID> = serverID     room membership
//	<prefix>:peer:<peerID>:rooms  = JSON array   reverse index
//	<prefix>:servers:<serverID>   = timestamp    server registry
//
// Pub/sub channels:
//
//	<prefix>:broadcast            global relay
//	<prefix>:room:<room>          room relay (pattern-subscribed)

func roomKey(prefix, room, peerID string) string {
	return prefix + ":room:" + room + ":" + peerID
}

func roomPattern(prefix, room string) string {
	return prefix + ":room:" + room + ":*"
}

func peerFromRoomKey(prefix, room, key string) string {
	return strings.TrimPrefix(key, prefix+":room:"+room+":")
}

func peerRoomsKey(prefix, peerID string) string {
	return prefix + ":peer:" + peerID + ":rooms"
}

func serverKey(prefix, serverID string) string {
	return prefix + ":servers:" + serverID
}

func serversPattern(prefix string) string {
	return prefix + ":servers:*"
}

func serverFromKey(prefix, key string) string {
	return strings.TrimPrefix(key, prefix+":servers:")
}

func broadcastChannel(prefix string) string {
	return prefix + ":broadcast"
}

func roomChannel(prefix, room string) string {
	return prefix + ":room:" + room
}

func roomChannelPattern(prefix string) string {
	return prefix + ":room:*"
}

func roomFromChannel(prefix, channel string) string {
	return strings.TrimPrefix(channel, prefix+":room:")
}
