package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrCancelled = errors.New("audio: device selection cancelled")

type pickAction int

const (
	pickNone pickAction = iota
	pickConfirm
	pickCancel
)

// pickKey applies one keypress (arrow keys, j/k, Enter, Ctrl+C, q) to the
// cursor.
func pickKey(key []byte, cursor, n int) (int, pickAction) {
	switch {
	case len(key) == 1:
		switch key[0] {
		case '\r', '\n':
			return cursor, pickConfirm
		case 3, 'q':
			return cursor, pickCancel
		case 'j':
			return min(cursor+1, n-1), pickNone
		case 'k':
			return max(cursor-1, 0), pickNone
		}
	case len(key) == 3 && key[0] == 0x1b && key[1] == '[':
		switch key[2] {
		case 'A':
			return max(cursor-1, 0), pickNone
		case 'B':
			return min(cursor+1, n-1), pickNone
		}
	}
	return cursor, pickNone
}

func renderDevices(w io.Writer, devices []DeviceInfo, cursor int) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[bluetooth: reduced quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, tag)
		}
	}
}

// SelectDevice lets the user pick a capture device on the terminal. A
// single device is returned without prompting.
func SelectDevice(ctx Context, in *os.File, out io.Writer) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	renderDevices(out, devices, cursor)
	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		var action pickAction
		cursor, action = pickKey(buf[:n], cursor, len(devices))
		switch action {
		case pickConfirm:
			fmt.Fprint(out, "\r\n")
			return &devices[cursor], nil
		case pickCancel:
			fmt.Fprint(out, "\r\n")
			return nil, ErrCancelled
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		renderDevices(out, devices, cursor)
	}
}

// FindDevice returns the device whose ID or name matches.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for i, d := range devices {
		if d.ID == name || d.Name == name {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoDevice, name)
}
