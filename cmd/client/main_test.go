package main

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestPromptUsername(t *testing.T) {
	long := strings.Repeat("x", 256)

	tests := []struct {
		name     string
		initial  string
		input    string
		want     string
		tooLongs int
	}{
		{name: "flag value", initial: "alice", want: "alice"},
		{name: "prompted", input: "bob\n", want: "bob"},
		{name: "blank lines skipped", input: "\n  \ncarol\n", want: "carol"},
		{name: "long input reprompts", input: long + "\ndave\n", want: "dave", tooLongs: 1},
		{name: "long flag reprompts", initial: long, input: "erin\n", want: "erin", tooLongs: 1},
		{name: "max length accepted", input: long[:255] + "\n", want: long[:255]},
		{name: "input ends", input: long + "\n", want: "", tooLongs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			in := bufio.NewScanner(strings.NewReader(tt.input))
			in.Buffer(make([]byte, 1024), 4096)

			got, err := promptUsername(in, &out, tt.initial)
			if err != nil {
				t.Fatalf("promptUsername() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("promptUsername() = %q, want %q", got, tt.want)
			}
			if n := strings.Count(out.String(), "too long"); n != tt.tooLongs {
				t.Errorf("too-long notices = %d, want %d", n, tt.tooLongs)
			}
		})
	}
}
