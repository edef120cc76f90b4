package fetch

import (
	"errors"
	"fmt"
)

// ErrRobotsDenied marks a fetch refused by robots.txt before any attempt
// was made.
var ErrRobotsDenied = errors.New("fetch denied by robots.txt")

// ExhaustedError is returned when every retry attempt for a URL failed.
type ExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s: %d attempts exhausted: %v", e.URL, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
