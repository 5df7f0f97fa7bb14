package action

import (
	"errors"
	"fmt"
)

// errSoundFailed is returned when the audio player declines a play request
// (missing file or all channels busy).
var errSoundFailed = errors.New("action: sound playback failed")

func errNoHandler(kind string) error {
	return fmt.Errorf("action: no handler for %q actions", kind)
}
