package updater_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/lanternworks/otalink/device"
	"github.com/lanternworks/otalink/metrics"
	"github.com/lanternworks/otalink/protocol"
	"github.com/lanternworks/otalink/service"
	"github.com/lanternworks/otalink/types"
	"github.com/lanternworks/otalink/updater"
)

func testMeta() *types.SessionMeta {
	return &types.SessionMeta{DeviceID: "dev-001", SessionID: "sess-001", Attempt: 1}
}

// scriptService answers each request from a fixed response sequence and
// records every report it receives.
type scriptService struct {
	responses []scriptResponse
	reports   []*protocol.StatusReport
}

type scriptResponse struct {
	cmd protocol.Command
	err error
}

func (s *scriptService) Request(_ context.Context, report *protocol.StatusReport) (protocol.Command, error) {
	s.reports = append(s.reports, copyReport(report))
	if len(s.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp.cmd, resp.err
}

// copyReport deep-copies a report so later loop iterations cannot mutate
// recorded values.
func copyReport(report *protocol.StatusReport) *protocol.StatusReport {
	clone := &protocol.StatusReport{Version: bytes.Clone(report.Version)}
	if report.MTU != nil {
		mtu := *report.MTU
		clone.MTU = &mtu
	}
	if report.Update != nil {
		clone.Update = &protocol.UpdateStatus{
			Offset:  report.Update.Offset,
			Version: bytes.Clone(report.Update.Version),
		}
	}
	return clone
}

func reportsEqual(a, b *protocol.StatusReport) bool {
	if !bytes.Equal(a.Version, b.Version) {
		return false
	}
	if (a.MTU == nil) != (b.MTU == nil) || (a.MTU != nil && *a.MTU != *b.MTU) {
		return false
	}
	if (a.Update == nil) != (b.Update == nil) {
		return false
	}
	if a.Update != nil {
		if a.Update.Offset != b.Update.Offset || !bytes.Equal(a.Update.Version, b.Update.Version) {
			return false
		}
	}
	return true
}

// fakeDelay records requested durations and supports failure injection.
type fakeDelay struct {
	calls []uint32
	fail  error
}

func (d *fakeDelay) DelayMs(_ context.Context, ms uint32) error {
	if d.fail != nil {
		return d.fail
	}
	d.calls = append(d.calls, ms)
	return nil
}

func newUpdater(t *testing.T, svc updater.UpdateService, observer updater.ProgressObserver, collector *metrics.Collector) *updater.Updater {
	t.Helper()
	u, err := updater.New(&updater.Config{
		Service:   svc,
		Meta:      testMeta(),
		Observer:  observer,
		Collector: collector,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return u
}

func TestRun_SyncedWithoutTransfer(t *testing.T) {
	svc := &scriptService{responses: []scriptResponse{
		{cmd: protocol.NewSync([]byte("1"), nil, nil)},
	}}
	dev := device.NewSimulator([]byte("1"))

	status, err := newUpdater(t, svc, nil, nil).Run(context.Background(), dev, &fakeDelay{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != updater.StatusSynced {
		t.Errorf("status = %q, want %q", status, updater.StatusSynced)
	}
	if len(dev.StartVersions) != 0 || len(dev.Writes) != 0 || dev.UpdateCalls != 0 {
		t.Errorf("device saw transfer operations: starts=%d writes=%d updates=%d",
			len(dev.StartVersions), len(dev.Writes), dev.UpdateCalls)
	}
	if dev.SyncedCalls != 1 {
		t.Errorf("SyncedCalls = %d, want 1", dev.SyncedCalls)
	}
}

func TestRun_SingleChunkUpdate(t *testing.T) {
	image := bytes.Repeat([]byte{1}, 1024)
	sum := sha256.Sum256(image)
	svc := &scriptService{responses: []scriptResponse{
		{cmd: protocol.NewWrite([]byte("2"), 0, image, nil)},
		{cmd: protocol.NewSwap([]byte("2"), sum[:], nil)},
	}}
	dev := device.NewSimulator([]byte("1"))

	status, err := newUpdater(t, svc, nil, nil).Run(context.Background(), dev, &fakeDelay{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != updater.StatusUpdated {
		t.Errorf("status = %q, want %q", status, updater.StatusUpdated)
	}
	if len(dev.StartVersions) != 1 || !bytes.Equal(dev.StartVersions[0], []byte("2")) {
		t.Errorf("StartVersions = %v, want one call with version 2", dev.StartVersions)
	}
	if len(dev.Writes) != 1 || dev.Writes[0].Offset != 0 || dev.Writes[0].Len != 1024 {
		t.Errorf("Writes = %v, want one write(0, 1024)", dev.Writes)
	}
	if dev.UpdateCalls != 1 || !bytes.Equal(dev.UpdatedSum, sum[:]) {
		t.Errorf("UpdateCalls = %d, sum = %x", dev.UpdateCalls, dev.UpdatedSum)
	}
	if dev.SyncedCalls != 0 {
		t.Errorf("SyncedCalls = %d, want 0", dev.SyncedCalls)
	}
}

func TestRun_ServiceFailureRetriesSameReport(t *testing.T) {
	svc := &scriptService{responses: []scriptResponse{
		{err: errors.New("transport down")},
		{cmd: protocol.NewSync([]byte("1"), nil, nil)},
	}}
	dev := device.NewSimulator([]byte("1"))
	collector := metrics.NewCollector("dev-001", "sess-001")

	status, err := newUpdater(t, svc, nil, collector).Run(context.Background(), dev, &fakeDelay{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != updater.StatusSynced {
		t.Errorf("status = %q, want %q", status, updater.StatusSynced)
	}
	if len(svc.reports) != 2 {
		t.Fatalf("service saw %d requests, want 2", len(svc.reports))
	}
	if !reportsEqual(svc.reports[0], svc.reports[1]) {
		t.Errorf("retried report differs: first=%+v second=%+v", svc.reports[0], svc.reports[1])
	}
	if snap := collector.Snapshot(); snap.ServiceRetries != 1 {
		t.Errorf("ServiceRetries = %d, want 1", snap.ServiceRetries)
	}
}

func TestRun_MultiChunkTransfer(t *testing.T) {
	image := make([]byte, 4096)
	for i := range image {
		image[i] = byte(i)
	}
	svc := service.NewInMemory([]byte("2"), image)
	dev := device.NewSimulator([]byte("1"))

	var offsets []uint32
	observer := func(p updater.Progress) {
		offsets = append(offsets, p.Offset)
	}
	collector := metrics.NewCollector("dev-001", "sess-001")

	status, err := newUpdater(t, svc, observer, collector).Run(context.Background(), dev, &fakeDelay{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != updater.StatusUpdated {
		t.Errorf("status = %q, want %q", status, updater.StatusUpdated)
	}

	// MaxChunkSize is 1024, so the transfer takes exactly four writes.
	if len(dev.Writes) != 4 {
		t.Fatalf("got %d writes, want 4", len(dev.Writes))
	}
	for i, w := range dev.Writes {
		if w.Offset != uint32(i*1024) || w.Len != 1024 {
			t.Errorf("write %d = %+v, want offset %d len 1024", i, w, i*1024)
		}
	}
	if len(dev.StartVersions) != 1 {
		t.Errorf("start called %d times, want 1", len(dev.StartVersions))
	}
	if !bytes.Equal(dev.Image(), image) {
		t.Error("device image differs from served image")
	}

	// Observer sees strictly increasing offsets, each advanced by the
	// write length, ending at the image size.
	want := []uint32{1024, 2048, 3072, 4096}
	if len(offsets) != len(want) {
		t.Fatalf("observer saw %d events, want %d", len(offsets), len(want))
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("offsets[%d] = %d, want %d", i, offsets[i], want[i])
		}
	}

	snap := collector.Snapshot()
	if snap.BytesWritten != 4096 || snap.ChunksWritten != 4 {
		t.Errorf("collector = %d bytes / %d chunks, want 4096/4", snap.BytesWritten, snap.ChunksWritten)
	}
}

func TestRun_ResumesFromReportedOffset(t *testing.T) {
	image := make([]byte, 1024)
	for i := range image {
		image[i] = byte(i % 251)
	}
	svc := service.NewInMemory([]byte("2"), image)
	dev := device.NewSimulator([]byte("1")).WithResumeState(512, []byte("2"))

	status, err := newUpdater(t, svc, nil, nil).Run(context.Background(), dev, &fakeDelay{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != updater.StatusUpdated {
		t.Errorf("status = %q, want %q", status, updater.StatusUpdated)
	}

	// No offset-0 write happened, so start is never re-invoked.
	if len(dev.StartVersions) != 0 {
		t.Errorf("start called %d times, want 0 on resume", len(dev.StartVersions))
	}
	if len(dev.Writes) == 0 || dev.Writes[0].Offset != 512 {
		t.Fatalf("Writes = %v, want first write at offset 512", dev.Writes)
	}

	// The first report is the in-progress form carrying the resume point.
	first := svc.Requests[0]
	if first.Update == nil || first.Update.Offset != 512 || !bytes.Equal(first.Update.Version, []byte("2")) {
		t.Errorf("first report update = %+v, want offset 512 version 2", first.Update)
	}
}

func TestRun_ZeroOffsetRestartsDownload(t *testing.T) {
	chunkA := bytes.Repeat([]byte{0xA}, 256)
	chunkB := bytes.Repeat([]byte{0xB}, 256)
	sum := sha256.Sum256(chunkB)
	svc := &scriptService{responses: []scriptResponse{
		{cmd: protocol.NewWrite([]byte("2"), 0, chunkA, nil)},
		// The service changes its mind: a new version restarts at offset 0.
		{cmd: protocol.NewWrite([]byte("3"), 0, chunkB, nil)},
		{cmd: protocol.NewSwap([]byte("3"), sum[:], nil)},
	}}
	dev := device.NewSimulator([]byte("1"))

	status, err := newUpdater(t, svc, nil, nil).Run(context.Background(), dev, &fakeDelay{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != updater.StatusUpdated {
		t.Errorf("status = %q, want %q", status, updater.StatusUpdated)
	}
	if len(dev.StartVersions) != 2 {
		t.Fatalf("start called %d times, want 2", len(dev.StartVersions))
	}
	if !bytes.Equal(dev.StartVersions[1], []byte("3")) {
		t.Errorf("second start version = %q, want 3", dev.StartVersions[1])
	}
	if !bytes.Equal(dev.Image(), chunkB) {
		t.Error("device image is not the restarted download")
	}
	// The in-progress report after the restart carries the new version.
	last := svc.reports[len(svc.reports)-1]
	if last.Update == nil || !bytes.Equal(last.Update.Version, []byte("3")) {
		t.Errorf("final report update = %+v, want version 3", last.Update)
	}
}

func TestRun_WaitSuspendsAndResendsSameReport(t *testing.T) {
	poll := uint32(2)
	svc := &scriptService{responses: []scriptResponse{
		{cmd: protocol.NewWait(&poll, nil)},
		{cmd: protocol.NewSync([]byte("1"), nil, nil)},
	}}
	dev := device.NewSimulator([]byte("1"))
	delay := &fakeDelay{}

	status, err := newUpdater(t, svc, nil, nil).Run(context.Background(), dev, delay)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != updater.StatusSynced {
		t.Errorf("status = %q, want %q", status, updater.StatusSynced)
	}
	if len(delay.calls) != 1 || delay.calls[0] != 2000 {
		t.Errorf("delay calls = %v, want one call of 2000ms", delay.calls)
	}
	if len(svc.reports) != 2 || !reportsEqual(svc.reports[0], svc.reports[1]) {
		t.Errorf("report after wait differs: %+v vs %+v", svc.reports[0], svc.reports[1])
	}
}

func TestRun_WaitWithoutPollContinuesImmediately(t *testing.T) {
	svc := &scriptService{responses: []scriptResponse{
		{cmd: protocol.NewWait(nil, nil)},
		{cmd: protocol.NewSync([]byte("1"), nil, nil)},
	}}
	delay := &fakeDelay{fail: errors.New("must not be called")}

	status, err := newUpdater(t, svc, nil, nil).Run(context.Background(), device.NewSimulator([]byte("1")), delay)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status != updater.StatusSynced {
		t.Errorf("status = %q, want %q", status, updater.StatusSynced)
	}
}

func TestRun_DelayFailureAbortsSession(t *testing.T) {
	poll := uint32(1)
	svc := &scriptService{responses: []scriptResponse{
		{cmd: protocol.NewWait(&poll, nil)},
	}}
	delay := &fakeDelay{fail: errors.New("timer broken")}

	_, err := newUpdater(t, svc, nil, nil).Run(context.Background(), device.NewSimulator([]byte("1")), delay)
	if !errors.Is(err, updater.ErrDelay) {
		t.Fatalf("Run error = %v, want ErrDelay", err)
	}
}

func TestRun_VersionBounds(t *testing.T) {
	long := bytes.Repeat([]byte("v"), protocol.VersionMaxLen+1)

	t.Run("current version too long", func(t *testing.T) {
		svc := &scriptService{}
		_, err := newUpdater(t, svc, nil, nil).Run(context.Background(), device.NewSimulator(long), &fakeDelay{})
		if !errors.Is(err, updater.ErrEncode) {
			t.Fatalf("Run error = %v, want ErrEncode", err)
		}
		if len(svc.reports) != 0 {
			t.Errorf("service saw %d requests, want 0", len(svc.reports))
		}
	})

	t.Run("resume version too long", func(t *testing.T) {
		dev := device.NewSimulator([]byte("1")).WithResumeState(64, long)
		_, err := newUpdater(t, &scriptService{}, nil, nil).Run(context.Background(), dev, &fakeDelay{})
		if !errors.Is(err, updater.ErrEncode) {
			t.Fatalf("Run error = %v, want ErrEncode", err)
		}
	})

	t.Run("chunk version too long", func(t *testing.T) {
		svc := &scriptService{responses: []scriptResponse{
			{cmd: protocol.NewWrite(long, 0, []byte{1}, nil)},
		}}
		_, err := newUpdater(t, svc, nil, nil).Run(context.Background(), device.NewSimulator([]byte("1")), &fakeDelay{})
		if !errors.Is(err, updater.ErrDecode) {
			t.Fatalf("Run error = %v, want ErrDecode", err)
		}
	})
}

func TestRun_DeviceFailuresAreFatal(t *testing.T) {
	image := bytes.Repeat([]byte{1}, 16)
	sum := sha256.Sum256(image)
	cause := errors.New("flash fault")

	tests := []struct {
		name      string
		responses []scriptResponse
		inject    func(*device.Simulator)
	}{
		{
			name:   "status",
			inject: func(d *device.Simulator) { d.FailStatus = cause },
		},
		{
			name: "start",
			responses: []scriptResponse{
				{cmd: protocol.NewWrite([]byte("2"), 0, image, nil)},
			},
			inject: func(d *device.Simulator) { d.FailStart = cause },
		},
		{
			name: "write",
			responses: []scriptResponse{
				{cmd: protocol.NewWrite([]byte("2"), 0, image, nil)},
			},
			inject: func(d *device.Simulator) { d.FailWrite = cause },
		},
		{
			name: "update",
			responses: []scriptResponse{
				{cmd: protocol.NewWrite([]byte("2"), 0, image, nil)},
				{cmd: protocol.NewSwap([]byte("2"), sum[:], nil)},
			},
			inject: func(d *device.Simulator) { d.FailUpdate = cause },
		},
		{
			name: "synced",
			responses: []scriptResponse{
				{cmd: protocol.NewSync([]byte("1"), nil, nil)},
			},
			inject: func(d *device.Simulator) { d.FailSynced = cause },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := device.NewSimulator([]byte("1"))
			tt.inject(dev)
			svc := &scriptService{responses: tt.responses}

			_, err := newUpdater(t, svc, nil, nil).Run(context.Background(), dev, &fakeDelay{})
			if !errors.Is(err, updater.ErrDevice) {
				t.Fatalf("Run error = %v, want ErrDevice", err)
			}
			if !errors.Is(err, cause) {
				t.Errorf("Run error = %v, want wrapped cause", err)
			}
		})
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &scriptService{responses: []scriptResponse{
		{cmd: protocol.NewSync([]byte("1"), nil, nil)},
	}}
	_, err := newUpdater(t, svc, nil, nil).Run(ctx, device.NewSimulator([]byte("1")), &fakeDelay{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := updater.New(&updater.Config{Meta: testMeta()}); err == nil {
		t.Error("New without service succeeded, want error")
	}
	svc := &scriptService{}
	if _, err := updater.New(&updater.Config{Service: svc, Meta: &types.SessionMeta{}}); err == nil {
		t.Error("New with invalid meta succeeded, want error")
	}
}
