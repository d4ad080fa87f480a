package statusfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flightaware/beast-splitter/internal/modes"
)

func statusPayload(settingsByte, offset, gpsByte byte) []byte {
	payload := make([]byte, 14)
	payload[0] = settingsByte
	payload[1] = offset
	payload[2] = gpsByte
	return payload
}

func readDoc(t *testing.T, path string) document {
	t.Helper()
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return doc
}

func TestWriter_Not12MHzGPSModeIsRed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := NewWriter(path, func() bool { return true })
	defer w.Close()

	payload := statusPayload(0x00, 0, 0) // bit 0x10 clear: not GPS timestamp mode
	m, err := modes.NewMessage(modes.Status, modes.TwelveMHz, 0, 0, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	w.Deliver(&m)

	doc := readDoc(t, path)
	if doc.GPS == nil || doc.GPS.Status != "red" {
		t.Fatalf("GPS section = %+v, want red", doc.GPS)
	}
	if doc.Radio == nil || doc.Radio.Status != "green" {
		t.Fatalf("Radio section = %+v, want green (Connected returns true)", doc.Radio)
	}
}

func TestWriter_OldStyleSyncedIsGreen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := NewWriter(path, func() bool { return true })
	defer w.Close()

	payload := statusPayload(0x10, 2, 0x00) // GPS mode, small offset, old-style (0x80 clear)
	m, err := modes.NewMessage(modes.Status, modes.TwelveMHz, 0, 0, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	w.Deliver(&m)

	doc := readDoc(t, path)
	if doc.GPS == nil || doc.GPS.Status != "green" {
		t.Fatalf("GPS section = %+v, want green", doc.GPS)
	}
}

func TestWriter_NewStyleNoSatsListsFault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := NewWriter(path, func() bool { return false })
	defer w.Close()

	// GPS mode, new-style (0x80 set), FPGA not using GPS time (0x20 set),
	// no satellites tracked (0x02 clear), antenna OK (0x01 set).
	payload := statusPayload(0x10, 0, 0x80|0x20|0x08|0x01)
	m, err := modes.NewMessage(modes.Status, modes.TwelveMHz, 0, 0, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	w.Deliver(&m)

	doc := readDoc(t, path)
	if doc.GPS == nil || doc.GPS.Status != "red" {
		t.Fatalf("GPS section = %+v, want red", doc.GPS)
	}
	if doc.GPS.Message != "Not tracking any satellites" {
		t.Errorf("GPS message = %q, want %q", doc.GPS.Message, "Not tracking any satellites")
	}
	if doc.Radio == nil || doc.Radio.Status != "red" {
		t.Fatalf("Radio section = %+v, want red (Connected returns false)", doc.Radio)
	}
}

func TestWriter_NonStatusMessageIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := NewWriter(path, func() bool { return true })
	defer w.Close()

	m, err := modes.NewMessage(modes.ModeAC, modes.TwelveMHz, 0, 0, make([]byte, 2))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	w.Deliver(&m)

	if _, err := os.Stat(path); err == nil {
		t.Fatal("status file was written for a non-Status message")
	}
}

func TestWriter_TimeoutRewritesFileWithoutNewStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := &Writer{Path: path, Connected: func() bool { return true }, tempPath: path + ".new"}
	w.mu.Lock()
	w.timer = time.AfterFunc(5*time.Millisecond, w.onTimeout)
	w.mu.Unlock()
	defer w.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("timed out waiting for the timeout-triggered status write")
	}

	doc := readDoc(t, path)
	if doc.GPS != nil {
		t.Errorf("GPS section = %+v, want nil (blank) when UpstreamRadarcape is unset", doc.GPS)
	}
}

func TestWriter_TimeoutOnDetectedRadarcapeIsRed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := &Writer{
		Path:              path,
		Connected:         func() bool { return true },
		UpstreamRadarcape: func() bool { return true },
		tempPath:          path + ".new",
	}
	w.mu.Lock()
	w.timer = time.AfterFunc(5*time.Millisecond, w.onTimeout)
	w.mu.Unlock()
	defer w.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("timed out waiting for the timeout-triggered status write")
	}

	doc := readDoc(t, path)
	if doc.GPS == nil || doc.GPS.Status != "red" {
		t.Fatalf("GPS section = %+v, want red", doc.GPS)
	}
	if doc.GPS.Message != "No recent GPS status message received" {
		t.Errorf("GPS message = %q, want %q", doc.GPS.Message, "No recent GPS status message received")
	}
}
