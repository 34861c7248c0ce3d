// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implements the line-oriented ASCII wire protocol spoken
// between OuroborosFS peers: command parsing/formatting and exact-byte-count
// framing for the bulk payloads that follow certain commands.
package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// Command is a parsed `<NOUN> <VERB> [args...]` line. NOUN and VERB are
// normalized to uppercase; Args are left exactly as received.
type Command struct {
	Noun string
	Verb string
	Args []string
}

// ErrMalformedCommand is returned when a line does not contain at least a
// NOUN and a VERB.
var ErrMalformedCommand = errors.New("protocol: malformed command")

// ParseCommand splits a line into NOUN, VERB, and the remaining
// whitespace-separated arguments. It does not validate that NOUN/VERB form a
// known combination; that is the dispatcher's job.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Command{}, ErrMalformedCommand
	}
	return Command{
		Noun: strings.ToUpper(fields[0]),
		Verb: strings.ToUpper(fields[1]),
		Args: fields[2:],
	}, nil
}

// String renders the command back to its wire form, without the trailing
// newline.
func (c Command) String() string {
	parts := append([]string{c.Noun, c.Verb}, c.Args...)
	return strings.Join(parts, " ")
}

// Arg returns the i-th argument, or "" if it is out of range.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// ParseUint parses a wire argument as an unsigned decimal integer, rejecting
// overflow and non-digit input as required by the codec.
func ParseUint(s string, bitSize int) (uint64, error) {
	return strconv.ParseUint(s, 10, bitSize)
}
