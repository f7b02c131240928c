package collector_test

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"testing"

	"github.com/cathay4t/peripetyd-go/collector"
	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(ioutil.Discard)
	m.Run()
}

// fakeSource replays a fixed sequence of frames, then returns io.EOF.
type fakeSource struct {
	frames []string
	pos    int
}

func (f *fakeSource) ReadFrame() (string, error) {
	if f.pos >= len(f.frames) {
		return "", io.EOF
	}
	frame := f.frames[f.pos]
	f.pos++
	return frame, nil
}

func (f *fakeSource) Close() error { return nil }

func TestCollector_ClassifiesMultipathFailure(t *testing.T) {
	src := &fakeSource{frames: []string{
		"6,100,999,-;device-mapper: multipath: Failing path 8:16.\n",
	}}
	c := collector.New("testhost", src, collector.BuiltinCatalog())

	out := make(chan domain.StorageEvent, 1)
	err := c.Run(context.Background(), out)
	assert.True(t, errors.Is(err, io.EOF))

	select {
	case ev := <-out:
		assert.Equal(t, domain.SubSystemMultipath, ev.SubSystem)
		assert.Equal(t, "DM_MPATH_PATH_FAILED", ev.EventType)
		assert.Equal(t, "8:16", ev.Kdev)
		assert.Equal(t, domain.Raw, ev.Class)
	default:
		t.Fatal("expected one classified event")
	}
}

func TestCollector_DiscardsNonKernelFacility(t *testing.T) {
	// facility 1 (user) encoded as priority 14 ((1<<3)|6).
	src := &fakeSource{frames: []string{
		"14,100,999,-;device-mapper: multipath: Failing path 8:16.\n",
	}}
	c := collector.New("testhost", src, collector.BuiltinCatalog())

	out := make(chan domain.StorageEvent, 1)
	_ = c.Run(context.Background(), out)

	select {
	case ev := <-out:
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func TestCollector_DiscardsUnmatchedLine(t *testing.T) {
	src := &fakeSource{frames: []string{
		"6,100,999,-;this line matches nothing in the catalog\n",
	}}
	c := collector.New("testhost", src, collector.BuiltinCatalog())

	out := make(chan domain.StorageEvent, 1)
	_ = c.Run(context.Background(), out)

	select {
	case ev := <-out:
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func TestCollector_ExtensionCapturesNamedGroups(t *testing.T) {
	src := &fakeSource{frames: []string{
		"3,1,1,-;sd 4:0:0:1: [sdc] Unaligned partial completion (resid=512, sector_sz=4096)\n",
	}}
	c := collector.New("testhost", src, collector.BuiltinCatalog())

	out := make(chan domain.StorageEvent, 1)
	_ = c.Run(context.Background(), out)

	ev := <-out
	assert.Equal(t, "sdc", ev.Kdev)
	assert.Equal(t, "512", ev.Extension["resid"])
	assert.Equal(t, "4096", ev.Extension["sector_sz"])
}

func TestCollector_FirstMatchWins(t *testing.T) {
	// A broader user entry appended after the built-ins also matches this
	// XFS line; the earlier built-in clean-mount entry must win.
	broader, err := collector.CompileUserEntry("XFS ", `^XFS \((?P<kdev>[^\s\)]+)\): `, "FsXfs", "CUSTOM_XFS")
	if err != nil {
		t.Fatalf("compiling broader entry: %v", err)
	}
	catalog := append(collector.BuiltinCatalog(), *broader)

	src := &fakeSource{frames: []string{
		"6,1,1,-;XFS (sdd1): Ending clean mount\n",
	}}
	c := collector.New("testhost", src, catalog)

	out := make(chan domain.StorageEvent, 1)
	_ = c.Run(context.Background(), out)

	ev := <-out
	assert.Equal(t, domain.SubSystemFsXfs, ev.SubSystem)
	assert.Equal(t, "FS_MOUNTED", ev.EventType)
	assert.Equal(t, "sdd1", ev.Kdev)
}
