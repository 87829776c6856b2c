package transport

import "github.com/dbranscombe/kafka-net/kafka"

// Payload is the unit handed to WriteAsync. Buffer is written to the socket
// unchanged; the remaining fields are opaque metadata carried through to the
// write events and metrics. The transport never inspects Buffer.
type Payload struct {
	Buffer        []byte
	CorrelationID int32
	APIKey        kafka.APIKey
	MessageCount  uint32
}
