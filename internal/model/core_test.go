package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestReportWireFormat(t *testing.T) {
	r := Report{
		SubjectID:     "Survivor-01",
		Kind:          KindSOS,
		Location:      Location{Lat: -23.5, Lon: -46.25},
		CreatedAt:     NewTimestamp(time.Unix(1700000000, 500_000_000)),
		SealedContent: "c2VhbGVk",
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"id":"Survivor-01","type":"sos","location":[-23.5,-46.25],"timestamp":1700000000.5,"secure_content":"c2VhbGVk"}`
	if string(b) != want {
		t.Fatalf("wire = %s\nwant  %s", b, want)
	}

	var back Report
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.SubjectID != r.SubjectID || back.Location != r.Location || !back.CreatedAt.Equal(r.CreatedAt.Time) {
		t.Fatalf("decoded = %+v", back)
	}
}

func TestTimestampAcceptsLegacyForms(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`1700000000`, time.Unix(1700000000, 0).UTC()},
		{`"2023-11-14T22:13:20Z"`, time.Unix(1700000000, 0).UTC()},
		{`0`, time.Time{}},
		{`null`, time.Time{}},
	}
	for _, tc := range tests {
		var ts Timestamp
		if err := json.Unmarshal([]byte(tc.in), &ts); err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if !ts.Equal(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.in, ts.Time, tc.want)
		}
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Fatal("expected error for unparsable string")
	}
}

func TestLocationRejectsWrongArity(t *testing.T) {
	var l Location
	err := json.Unmarshal([]byte(`[1,2,3]`), &l)
	if err == nil || !strings.Contains(err.Error(), "expected [lat, lon]") {
		t.Fatalf("err = %v", err)
	}
}

func TestBeaconAddr(t *testing.T) {
	b := Beacon{Role: RoleIngest, IP: "10.0.0.7", Port: 6008}
	if got := b.Addr(); got != "10.0.0.7:6008" {
		t.Fatalf("Addr = %q", got)
	}
	raw, _ := json.Marshal(b)
	if string(raw) != `{"role":"ingest","ip":"10.0.0.7","port":6008}` {
		t.Fatalf("beacon wire = %s", raw)
	}
}
