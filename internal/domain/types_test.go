package domain

import (
	"errors"
	"testing"
)

func TestAudioFramePCMIsLittleEndian(t *testing.T) {
	t.Parallel()

	got := AudioFrame{1, -1, 32767, -32768}.PCM()
	want := []byte{0x01, 0x00, 0xff, 0xff, 0xff, 0x7f, 0x00, 0x80}
	if len(got) != len(want) {
		t.Fatalf("unexpected length: %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], want[i])
		}
	}
}

func TestRecordingStatusIsTerminal(t *testing.T) {
	t.Parallel()

	cases := map[RecordingStatus]bool{
		RecordingStatusRecording:  false,
		RecordingStatusProcessing: false,
		RecordingStatusCompleted:  true,
		RecordingStatusError:      true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s: expected terminal=%t", status, want)
		}
	}
}

func TestStatusErrorTransient(t *testing.T) {
	t.Parallel()

	cases := map[int]bool{400: false, 401: false, 404: false, 408: true, 429: true, 500: true, 503: true}
	for code, want := range cases {
		err := &StatusError{Service: "svc", StatusCode: code}
		if got := err.Transient(); got != want {
			t.Fatalf("%d: expected transient=%t", code, want)
		}
	}
}

func TestErrorTypesUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")
	for _, err := range []error{
		&CredentialError{Err: cause},
		&DeviceError{Err: cause},
		&ConnectError{Kind: ConnectUnreachable, Err: cause},
		&TransportError{Err: cause},
	} {
		if !errors.Is(err, cause) {
			t.Fatalf("%T does not unwrap to cause", err)
		}
	}
}
