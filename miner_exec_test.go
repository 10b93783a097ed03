package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseMinerOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    minerResult
		wantErr bool
	}{
		{
			name: "success object",
			out: `{
  "success": true,
  "nonce": "0011223344556677",
  "preimage": "0011...full",
  "hash": "0000031f00aa"
}`,
			want: minerResult{Success: true, Nonce: "0011223344556677", Preimage: "0011...full", Hash: "0000031f00aa"},
		},
		{
			name: "no solution",
			out:  `{"success": false, "message": "No solution found in 10000000 attempts"}`,
			want: minerResult{Success: false, Message: "No solution found in 10000000 attempts"},
		},
		{
			name: "log noise before json",
			out:  "INFO mining for address addr1...\n{\"success\": false, \"message\": \"nope\"}",
			want: minerResult{Success: false, Message: "nope"},
		},
		{name: "empty", out: "", wantErr: true},
		{name: "no object", out: "just logs", wantErr: true},
		{name: "truncated json", out: `{"success": tr`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMinerOutput([]byte(tt.out))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if *got != tt.want {
				t.Fatalf("result = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestLimitedBufferCaps(t *testing.T) {
	var inner bytes.Buffer
	buf := &limitedBuffer{buf: &inner, limit: 10}

	n, err := buf.Write([]byte(strings.Repeat("x", 8)))
	if err != nil || n != 8 {
		t.Fatalf("first write n=%d err=%v", n, err)
	}
	// Overflow reports full consumption but retains only up to the cap.
	n, err = buf.Write([]byte(strings.Repeat("y", 8)))
	if err != nil || n != 8 {
		t.Fatalf("second write n=%d err=%v", n, err)
	}
	if inner.Len() != 10 {
		t.Fatalf("retained %d bytes, want 10", inner.Len())
	}
	n, err = buf.Write([]byte("zzz"))
	if err != nil || n != 3 {
		t.Fatalf("post-cap write n=%d err=%v", n, err)
	}
	if inner.Len() != 10 {
		t.Fatalf("cap not enforced, len=%d", inner.Len())
	}
}
