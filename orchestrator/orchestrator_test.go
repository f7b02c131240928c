package orchestrator_test

import (
	"context"
	"io"
	"io/ioutil"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cathay4t/peripetyd-go/blkinfo"
	"github.com/cathay4t/peripetyd-go/collector"
	"github.com/cathay4t/peripetyd-go/config"
	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/cathay4t/peripetyd-go/orchestrator"
	"github.com/cathay4t/peripetyd-go/parser"
	"github.com/cathay4t/peripetyd-go/sysio"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(ioutil.Discard)
	m.Run()
}

// fakeSource replays a fixed set of raw kmsg frames, then blocks until
// closed, mirroring a real /dev/kmsg tail that simply has nothing new.
type fakeSource struct {
	frames []string
	i      int
	mu     sync.Mutex
	closed chan struct{}
}

func newFakeSource(frames []string) *fakeSource {
	return &fakeSource{frames: frames, closed: make(chan struct{})}
}

func (f *fakeSource) ReadFrame() (string, error) {
	f.mu.Lock()
	if f.i < len(f.frames) {
		s := f.frames[f.i]
		f.i++
		f.mu.Unlock()
		return s, nil
	}
	f.mu.Unlock()
	<-f.closed
	return "", io.EOF
}

func (f *fakeSource) Close() error {
	close(f.closed)
	return nil
}

// recordingSink captures every event delivered to it.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.StorageEvent
}

func (s *recordingSink) Write(ev domain.StorageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) snapshot() []domain.StorageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StorageEvent, len(s.events))
	copy(out, s.events)
	return out
}

// nullStdout discards writes, satisfying orchestrator.StdoutWriter.
type nullStdout struct{}

func (nullStdout) WriteString(s string) (int, error) { return len(s), nil }

// stubStage is a minimal parser.Stage for exercising fan-out and the
// Synthetic re-offer path without touching real sysfs.
type stubStage struct {
	name string
	sub  parser.Subscription
	fn   func(domain.StorageEvent) (domain.StorageEvent, bool, error)
}

func (s *stubStage) Name() string                    { return s.name }
func (s *stubStage) Subscribes() parser.Subscription { return s.sub }
func (s *stubStage) Process(ev domain.StorageEvent) (domain.StorageEvent, bool, error) {
	return s.fn(ev)
}

func buildResolver(t *testing.T) *blkinfo.Resolver {
	t.Helper()
	ios := sysio.NewIOService(domain.IOMemFileService)
	ios.RemoveAllIOnodes()
	return blkinfo.NewResolver(ios)
}

func TestOrchestrator_FansOutAndDeliversToSink(t *testing.T) {
	// device-mapper: multipath: Failing path 8:16.
	raw := "3,100,1000000,-;device-mapper: multipath: Failing path 8:16."
	source := newFakeSource([]string{raw})

	coll := collector.New("host1", source, collector.BuiltinCatalog())

	multipath := &stubStage{
		name: "multipath",
		sub:  parser.Subscription{Class: domain.Raw, SubSystems: []domain.StorageSubSystem{domain.SubSystemMultipath}},
		fn: func(ev domain.StorageEvent) (domain.StorageEvent, bool, error) {
			ev.Msg = "enriched:" + ev.RawMsg
			return ev, true, nil
		},
	}

	sink := &recordingSink{}
	o := orchestrator.New("host1", coll, []parser.Stage{multipath}, buildResolver(t), sink, nullStdout{},
		config.Main{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		source.Close()
	}()

	_ = o.Run(ctx)

	events := sink.snapshot()
	if assert.Len(t, events, 1) {
		assert.True(t, strings.HasPrefix(events[0].Msg, "enriched:"))
		assert.Equal(t, domain.SubSystemMultipath, events[0].SubSystem)
	}
}

func TestOrchestrator_DumpAtStartReoffersSyntheticToInterestedStage(t *testing.T) {
	source := newFakeSource(nil)
	coll := collector.New("host1", source, collector.BuiltinCatalog())

	ios := sysio.NewIOService(domain.IOMemFileService)
	ios.RemoveAllIOnodes()
	n := ios.NewIOnode("", "/sys/block/sde/device/wwid", 0)
	if err := n.WriteFile([]byte("naa.999")); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	holders := ios.NewIOnode("", "/sys/block/sde/holders", 0)
	if err := holders.MkdirAll(); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	class := ios.NewIOnode("", "/sys/class/block/sde", 0)
	if err := class.MkdirAll(); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	resolver := blkinfo.NewResolver(ios)

	var gotSynthetic bool
	var mu sync.Mutex
	consumer := &stubStage{
		name: "consumer",
		sub:  parser.Subscription{Class: domain.Synthetic, SubSystems: []domain.StorageSubSystem{domain.SubSystemPeripety}},
		fn: func(ev domain.StorageEvent) (domain.StorageEvent, bool, error) {
			mu.Lock()
			gotSynthetic = true
			mu.Unlock()
			return ev, false, nil
		},
	}

	dumpTrue := true
	sink := &recordingSink{}
	o := orchestrator.New("host1", coll, []parser.Stage{consumer}, resolver, sink, nullStdout{},
		config.Main{DumpBlkInfoAtStart: &dumpTrue})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		source.Close()
	}()

	_ = o.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, gotSynthetic)
	assert.NotEmpty(t, sink.snapshot())
}

func TestOrchestrator_ReloadSwapsCatalogAndConfig(t *testing.T) {
	source := newFakeSource(nil)
	coll := collector.New("host1", source, collector.BuiltinCatalog())
	sink := &recordingSink{}
	o := orchestrator.New("host1", coll, nil, buildResolver(t), sink, nullStdout{}, config.Main{})

	saveFalse := false
	o.Reload(config.Main{SaveToJournald: &saveFalse}, nil)

	// Reload must not panic and must not require a non-nil catalog.
	source.Close()
}
