package device

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func TestSimulator_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator([]byte("1"))

	state, err := sim.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !bytes.Equal(state.CurrentVersion, []byte("1")) {
		t.Errorf("current version = %q, want 1", state.CurrentVersion)
	}
	if state.NextOffset != 0 || state.NextVersion != nil {
		t.Errorf("fresh device reported progress: offset %d version %q", state.NextOffset, state.NextVersion)
	}

	if err := sim.Start(ctx, []byte("2")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sim.Write(ctx, 0, []byte("abcd")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sim.Write(ctx, 4, []byte("efgh")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sim.Update(ctx, []byte("2"), []byte("sum")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if len(sim.StartVersions) != 1 || !bytes.Equal(sim.StartVersions[0], []byte("2")) {
		t.Errorf("start versions = %q, want one start with 2", sim.StartVersions)
	}
	if !bytes.Equal(sim.Image(), []byte("abcdefgh")) {
		t.Errorf("image = %q, want abcdefgh", sim.Image())
	}
	if !bytes.Equal(sim.UpdatedVersion, []byte("2")) {
		t.Errorf("activated version = %q, want 2", sim.UpdatedVersion)
	}

	// Activation becomes the new current version.
	state, err = sim.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !bytes.Equal(state.CurrentVersion, []byte("2")) {
		t.Errorf("current version after update = %q, want 2", state.CurrentVersion)
	}
}

func TestSimulator_RejectsNonContiguousWrite(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator([]byte("1"))

	if err := sim.Start(ctx, []byte("2")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sim.Write(ctx, 8, []byte("late")); err == nil {
		t.Fatal("expected error for write past end of image")
	}
}

func TestSimulator_ResumeState(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator([]byte("1")).WithResumeState(512, []byte("2"))

	state, err := sim.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if state.NextOffset != 512 || !bytes.Equal(state.NextVersion, []byte("2")) {
		t.Errorf("resume state = offset %d version %q, want 512/2", state.NextOffset, state.NextVersion)
	}

	// Writes continue at the resume point without a Start.
	if err := sim.Write(ctx, 512, []byte("tail")); err != nil {
		t.Fatalf("Write at resume offset failed: %v", err)
	}
}

func TestSimulator_FailureInjection(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator([]byte("1"))
	sim.FailWrite = os.ErrPermission

	if err := sim.Start(ctx, []byte("2")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sim.Write(ctx, 0, []byte("x")); err != os.ErrPermission {
		t.Errorf("Write error = %v, want injected error", err)
	}
}

func TestFile_TransferAndActivate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	dev, err := NewFile(dir, []byte("1"), 0)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if dev.MaxChunkSize() != DefaultMaxChunkSize {
		t.Errorf("max chunk size = %d, want default", dev.MaxChunkSize())
	}

	image := []byte("firmware image payload")
	sum := sha256.Sum256(image)

	if err := dev.Start(ctx, []byte("2")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := dev.Write(ctx, 0, image[:10]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := dev.Write(ctx, 10, image[10:]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := dev.Update(ctx, []byte("2"), sum[:]); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	promoted, err := os.ReadFile(filepath.Join(dir, firmwareName))
	if err != nil {
		t.Fatalf("read promoted firmware: %v", err)
	}
	if !bytes.Equal(promoted, image) {
		t.Error("promoted firmware does not match written image")
	}
	if _, err := os.Stat(filepath.Join(dir, stateName)); !os.IsNotExist(err) {
		t.Error("progress state not cleared after activation")
	}

	state, err := dev.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !bytes.Equal(state.CurrentVersion, []byte("2")) {
		t.Errorf("current version = %q, want 2", state.CurrentVersion)
	}
}

func TestFile_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	dev, err := NewFile(t.TempDir(), []byte("1"), 0)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	if err := dev.Start(ctx, []byte("2")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := dev.Write(ctx, 0, []byte("payload")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := dev.Update(ctx, []byte("2"), []byte("wrong checksum")); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestFile_ProgressSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	dev, err := NewFile(dir, []byte("1"), 0)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if err := dev.Start(ctx, []byte("2")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := dev.Write(ctx, 0, bytes.Repeat([]byte{9}, 256)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// A new device over the same directory resumes where the old one left off.
	reopened, err := NewFile(dir, []byte("1"), 0)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	state, err := reopened.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if state.NextOffset != 256 {
		t.Errorf("resume offset = %d, want 256", state.NextOffset)
	}
	if !bytes.Equal(state.NextVersion, []byte("2")) {
		t.Errorf("resume version = %q, want 2", state.NextVersion)
	}
}

func TestFile_SyncedClearsProgress(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	dev, err := NewFile(dir, []byte("1"), 0)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if err := dev.Start(ctx, []byte("2")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := dev.Synced(ctx); err != nil {
		t.Fatalf("Synced failed: %v", err)
	}

	state, err := dev.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if state.NextOffset != 0 || state.NextVersion != nil {
		t.Errorf("progress not cleared: offset %d version %q", state.NextOffset, state.NextVersion)
	}
}
