package main

import (
	"testing"

	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestEventID(t *testing.T) {
	hex := "aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44"
	note, err := nip19.EncodeNote(hex)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: hex, want: hex},
		{in: note, want: hex},
		{in: "note1garbage", wantErr: true},
	}

	for _, tt := range tests {
		got, err := eventID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("eventID(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("eventID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
