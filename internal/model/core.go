package model

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"
)

type Role string

const (
	RoleIngest Role = "ingest"
	RoleQuery  Role = "query"
)

const KindSOS = "sos"

// Beacon is the UDP advertisement a relay broadcasts for each role it serves.
type Beacon struct {
	Role Role   `json:"role"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (b Beacon) Addr() string { return net.JoinHostPort(b.IP, strconv.Itoa(b.Port)) }

// Report is a distress packet created by a survivor node. SealedContent is
// produced by the payload codec and is never inspected by the relay.
type Report struct {
	SubjectID     string    `json:"id"`
	Kind          string    `json:"type"`
	Location      Location  `json:"location"`
	CreatedAt     Timestamp `json:"timestamp"`
	SealedContent string    `json:"secure_content"`
}

// Order is a command reply addressed to one survivor node.
type Order struct {
	TargetID      string    `json:"target_id"`
	SealedContent string    `json:"secure_content"`
	CreatedAt     Timestamp `json:"timestamp"`
}

// Location travels as a two element [lat, lon] array.
type Location struct {
	Lat float64
	Lon float64
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Lat, l.Lon})
}

func (l *Location) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = Location{}
		return nil
	}
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("location: expected [lat, lon], got %d values", len(pair))
	}
	l.Lat, l.Lon = pair[0], pair[1]
	return nil
}

// Timestamp is encoded as fractional seconds since the Unix epoch.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t.UTC()} }

func Now() Timestamp { return NewTimestamp(time.Now()) }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	secs := float64(t.UnixNano()) / 1e9
	return []byte(strconv.FormatFloat(secs, 'f', -1, 64)), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if secs == 0 {
		t.Time = time.Time{}
		return nil
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
	return nil
}
