package main

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
)

// lineFilter returns true when a line should be written.
type lineFilter func(line []byte) bool

var whitespace = [256]bool{
	' ':  true,
	'\r': true,
	'\n': true,
	'\t': true,
}

// notEmpty passes lines with at least one non-whitespace byte.
func notEmpty() lineFilter {
	return func(line []byte) bool {
		for _, b := range line {
			if !whitespace[b] {
				return true
			}
		}
		return false
	}
}

// validJSON passes lines holding a single valid json value.
func validJSON() lineFilter {
	return func(line []byte) bool {
		return jsoniter.ConfigFastest.Valid(line)
	}
}

func containing(sub []byte) lineFilter {
	return func(line []byte) bool {
		return bytes.Contains(line, sub)
	}
}
