//go:build !linux

package mailbox

import "errors"

// Open opens the property mailbox through /dev/vcio.
func Open() (*Mailbox, error) {
	return nil, errors.New("mailbox: /dev/vcio not supported on this platform")
}
