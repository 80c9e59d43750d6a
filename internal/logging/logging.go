// Package logging provides the single, explicitly-injected logger used
// throughout the controller. There is no process-wide named logger
// retrieved ad hoc — base spec §9 calls that pattern out as not part of
// the design — every component receives its *log.Logger at construction.
package logging

import (
	"log"
	"os"
)

// New returns a logger prefixed with the owning component's name, in the
// same style the teacher's packages use with their own log.Printf calls.
func New(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}
