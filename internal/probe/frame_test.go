package probe

import (
	"encoding/binary"
	"testing"
)

func TestEncodeApiVersionsRequest(t *testing.T) {
	frame := encodeApiVersionsRequest("probe", 42)

	size := int32(binary.BigEndian.Uint32(frame[:4]))
	if int(size) != len(frame)-4 {
		t.Errorf("size prefix %d, body is %d bytes", size, len(frame)-4)
	}
	if key := int16(binary.BigEndian.Uint16(frame[4:6])); key != 18 {
		t.Errorf("api key %d, want 18", key)
	}
	if ver := int16(binary.BigEndian.Uint16(frame[6:8])); ver != 0 {
		t.Errorf("api version %d, want 0", ver)
	}
	if corr := int32(binary.BigEndian.Uint32(frame[8:12])); corr != 42 {
		t.Errorf("correlation id %d, want 42", corr)
	}
	if l := int16(binary.BigEndian.Uint16(frame[12:14])); l != 5 {
		t.Errorf("client id length %d, want 5", l)
	}
	if got := string(frame[14:]); got != "probe" {
		t.Errorf("client id %q", got)
	}
}

func TestParseResponseSize(t *testing.T) {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 300)
	size, err := parseResponseSize(header)
	if err != nil || size != 300 {
		t.Errorf("got size=%d err=%v", size, err)
	}

	binary.BigEndian.PutUint32(header, 0)
	if _, err := parseResponseSize(header); err == nil {
		t.Error("expected error for zero size")
	}
	binary.BigEndian.PutUint32(header, maxResponseSize+1)
	if _, err := parseResponseSize(header); err == nil {
		t.Error("expected error for oversized frame")
	}
	if _, err := parseResponseSize(header[:2]); err == nil {
		t.Error("expected error for short header")
	}
}

func TestCheckCorrelation(t *testing.T) {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body, 7)
	if err := checkCorrelation(body, 7); err != nil {
		t.Errorf("matching correlation rejected: %v", err)
	}
	if err := checkCorrelation(body, 8); err == nil {
		t.Error("mismatched correlation accepted")
	}
	if err := checkCorrelation(body[:2], 7); err == nil {
		t.Error("short body accepted")
	}
}
