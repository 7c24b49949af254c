package ble

import (
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestParseUUID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    bluetooth.UUID
		wantErr bool
	}{
		{name: "16-bit", in: "180D", want: bluetooth.ServiceUUIDHeartRate},
		{name: "16-bit lower case", in: "2a37", want: bluetooth.CharacteristicUUIDHeartRateMeasurement},
		{name: "16-bit hex prefix", in: "0x180D", want: bluetooth.ServiceUUIDHeartRate},
		{name: "32-bit", in: "0000180D", want: bluetooth.ServiceUUIDHeartRate},
		{name: "128-bit", in: "0000180d-0000-1000-8000-00805f9b34fb", want: bluetooth.ServiceUUIDHeartRate},
		{name: "128-bit vendor", in: "19b10000-e8f2-537e-4f6c-d104768a1214", want: mustParse(t, "19b10000-e8f2-537e-4f6c-d104768a1214")},
		{name: "not hex", in: "18ZZ", wantErr: true},
		{name: "wrong length", in: "180D0", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUUID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseUUID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseUUID(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func mustParse(t *testing.T, s string) bluetooth.UUID {
	t.Helper()
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		t.Fatalf("bluetooth.ParseUUID(%q): %v", s, err)
	}
	return u
}
