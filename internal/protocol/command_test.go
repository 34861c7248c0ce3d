// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Command
		wantErr bool
	}{
		{
			name: "ping",
			line: "NODE PING",
			want: Command{Noun: "NODE", Verb: "PING"},
		},
		{
			name: "lowercase noun and verb normalized",
			line: "node next 127.0.0.1:7002",
			want: Command{Noun: "NODE", Verb: "NEXT", Args: []string{"127.0.0.1:7002"}},
		},
		{
			name: "multiple args preserved in order",
			line: "FILE RELAY-STREAM 7001 10 3 1 a",
			want: Command{Noun: "FILE", Verb: "RELAY-STREAM", Args: []string{"7001", "10", "3", "1", "a"}},
		},
		{
			name:    "missing verb",
			line:    "NODE",
			wantErr: true,
		},
		{
			name:    "empty line",
			line:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCommand(%q) = %+v, want error", tt.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q) unexpected error: %v", tt.line, err)
			}
			if got.Noun != tt.want.Noun || got.Verb != tt.want.Verb || len(got.Args) != len(tt.want.Args) {
				t.Fatalf("ParseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
			for i := range tt.want.Args {
				if got.Args[i] != tt.want.Args[i] {
					t.Fatalf("ParseCommand(%q).Args[%d] = %q, want %q", tt.line, i, got.Args[i], tt.want.Args[i])
				}
			}
		})
	}
}

func TestParseUint(t *testing.T) {
	tests := []struct {
		s       string
		wantErr bool
	}{
		{"0", false},
		{"42", false},
		{"-1", true},
		{"abc", true},
		{"18446744073709551616", true}, // overflows uint64
	}
	for _, tt := range tests {
		_, err := ParseUint(tt.s, 64)
		if tt.wantErr != (err != nil) {
			t.Errorf("ParseUint(%q) err=%v, wantErr=%v", tt.s, err, tt.wantErr)
		}
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Noun: "NODE", Verb: "NEXT", Args: []string{"127.0.0.1:7002"}}
	if got, want := c.String(), "NODE NEXT 127.0.0.1:7002"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
