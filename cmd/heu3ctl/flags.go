package main

import "fmt"

// parseTerminator maps the -terminator flag value to the protocol line
// terminator byte.
func parseTerminator(name string) (byte, error) {
	switch name {
	case "lf", "\n":
		return '\n', nil
	case "cr", "\r":
		return '\r', nil
	}
	return 0, fmt.Errorf("unknown terminator %q: expected lf or cr", name)
}
