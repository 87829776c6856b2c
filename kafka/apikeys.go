// Package kafka holds the small pieces of Kafka protocol vocabulary the
// transport surfaces for observability. The transport itself never parses
// frames; api keys and correlation ids travel through it as opaque metadata.
package kafka

import "strconv"

// APIKey identifies a Kafka protocol request type.
type APIKey uint16

const (
	Produce         APIKey = 0
	Fetch           APIKey = 1
	ListOffsets     APIKey = 2
	Metadata        APIKey = 3
	OffsetCommit    APIKey = 8
	OffsetFetch     APIKey = 9
	FindCoordinator APIKey = 10
	JoinGroup       APIKey = 11
	Heartbeat       APIKey = 12
	LeaveGroup      APIKey = 13
	SyncGroup       APIKey = 14
	SaslHandshake   APIKey = 17
	ApiVersions     APIKey = 18
	CreateTopics    APIKey = 19
)

var keyNames = map[APIKey]string{
	Produce:         "Produce",
	Fetch:           "Fetch",
	ListOffsets:     "ListOffsets",
	Metadata:        "Metadata",
	OffsetCommit:    "OffsetCommit",
	OffsetFetch:     "OffsetFetch",
	FindCoordinator: "FindCoordinator",
	JoinGroup:       "JoinGroup",
	Heartbeat:       "Heartbeat",
	LeaveGroup:      "LeaveGroup",
	SyncGroup:       "SyncGroup",
	SaslHandshake:   "SaslHandshake",
	ApiVersions:     "ApiVersions",
	CreateTopics:    "CreateTopics",
}

// String returns the protocol name for known keys and the numeric value for
// the rest, so it is always usable as a metric label.
func (k APIKey) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return strconv.Itoa(int(k))
}
