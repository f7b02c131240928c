package blkinfo_test

import (
	"io/ioutil"
	"testing"

	"github.com/cathay4t/peripetyd-go/blkinfo"
	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/cathay4t/peripetyd-go/sysio"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(ioutil.Discard)
	m.Run()
}

// buildFixture lays out a small sysfs tree with one SCSI disk (sda, wwid
// "naa.111"), one unrelated SCSI disk (sdb), and one multipath map
// (mpatha, dm uuid "mpath-naa.222", wwid "naa.222") owning sdc and sdd.
func buildFixture(t *testing.T) domain.IOServiceIface {
	t.Helper()
	ios := sysio.NewIOService(domain.IOMemFileService)
	ios.RemoveAllIOnodes()

	write := func(path, content string) {
		n := ios.NewIOnode("", path, 0)
		if err := n.WriteFile([]byte(content)); err != nil {
			t.Fatalf("fixture write %s: %v", path, err)
		}
	}
	mkdir := func(path string) {
		n := ios.NewIOnode("", path, 0)
		if err := n.MkdirAll(); err != nil {
			t.Fatalf("fixture mkdir %s: %v", path, err)
		}
	}

	// sda: plain scsi disk, no holders.
	write("/sys/block/sda/device/wwid", "naa.111\n")
	mkdir("/sys/block/sda/holders")

	// sdb, sdc, sdd: scsi disks; sdc/sdd are multipath slaves.
	write("/sys/block/sdb/device/wwid", "naa.333\n")
	mkdir("/sys/block/sdb/holders")
	write("/sys/block/sdc/device/wwid", "naa.444\n")
	mkdir("/sys/block/sdc/holders")
	write("/sys/block/sdd/device/wwid", "naa.555\n")
	mkdir("/sys/block/sdd/holders")

	// mpatha: dm-0, multipath map owning sdc + sdd.
	write("/sys/block/dm-0/dm/uuid", "mpath-naa.222")
	write("/sys/block/dm-0/dm/name", "mpatha")
	mkdir("/sys/block/dm-0/slaves/sdc")
	mkdir("/sys/block/dm-0/slaves/sdd")

	// /sys/class/block enumerates everything List() walks.
	for _, name := range []string{"sda", "sdb", "sdc", "sdd", "dm-0"} {
		mkdir("/sys/class/block/" + name)
	}

	return ios
}

func TestResolver_ScsiDisk(t *testing.T) {
	ios := buildFixture(t)
	r := blkinfo.NewResolver(ios)

	bi, err := r.New("sda", false)
	assert.NoError(t, err)
	assert.Equal(t, "naa.111", bi.Wwid)
	assert.Equal(t, domain.BlkScsi, bi.BlkType)
	assert.Equal(t, "/dev/sda", bi.BlkPath)
}

func TestResolver_MultipathOwnersAreScsi(t *testing.T) {
	ios := buildFixture(t)
	r := blkinfo.NewResolver(ios)

	bi, err := r.New("dm-0", false)
	assert.NoError(t, err)
	assert.Equal(t, domain.BlkDmMultipath, bi.BlkType)
	assert.Equal(t, "naa.222", bi.Wwid)
	assert.Len(t, bi.Owners, 2)

	seen := map[string]bool{}
	for _, o := range bi.Owners {
		assert.Equal(t, domain.BlkScsi, o.BlkType)
		assert.False(t, seen[o.Wwid], "duplicate owner wwid %s", o.Wwid)
		seen[o.Wwid] = true
	}
}

func TestResolver_ResolutionPriorityHolderCheck(t *testing.T) {
	ios := buildFixture(t)
	r := blkinfo.NewResolver(ios)

	// sdc is a multipath slave: with the holder check enabled it should
	// resolve through its dm-0 holder instead of staying a raw scsi disk.
	hn := ios.NewIOnode("", "/sys/block/sdc/holders/dm-0", 0)
	assert.NoError(t, hn.Mkdir())

	bi, err := r.New("sdc", false)
	assert.NoError(t, err)
	assert.Equal(t, domain.BlkDmMultipath, bi.BlkType)

	// With holder-check disabled, the same identifier stays scsi.
	bi, err = r.New("sdc", true)
	assert.NoError(t, err)
	assert.Equal(t, domain.BlkScsi, bi.BlkType)
}

func TestResolver_List(t *testing.T) {
	ios := buildFixture(t)
	r := blkinfo.NewResolver(ios)

	got, err := r.List()
	assert.NoError(t, err)

	names := map[string]bool{}
	for _, bi := range got {
		names[bi.Wwid] = true
	}
	// mpatha (owns sdc+sdd) and sda and sdb, but never sdc/sdd themselves.
	assert.True(t, names["naa.222"])
	assert.True(t, names["naa.111"])
	assert.True(t, names["naa.333"])
	assert.False(t, names["naa.444"])
	assert.False(t, names["naa.555"])
}

func TestResolver_IdentifierRoundTrip(t *testing.T) {
	ios := buildFixture(t)

	write := func(path, content string) {
		n := ios.NewIOnode("", path, 0)
		if err := n.WriteFile([]byte(content)); err != nil {
			t.Fatalf("fixture write %s: %v", path, err)
		}
	}
	// Register sda under /sys/class/scsi_disk too, so resolving by bare
	// wwid (no recognized identifier shape) falls through to the
	// wwid-scan path (spec §4.B.1, last-resort branch).
	write("/sys/class/scsi_disk/4:0:0:1/device/wwid", "naa.111\n")
	if err := ios.Symlink("/sys/block/sda", "/sys/class/scsi_disk/4:0:0:1/device/block"); err != nil {
		t.Fatalf("fixture symlink: %v", err)
	}

	r := blkinfo.NewResolver(ios)

	byWwid, err := r.New("naa.111", false)
	assert.NoError(t, err)

	byPath, err := r.New("/dev/sda", false)
	assert.NoError(t, err)

	assert.Equal(t, byPath.BlkPath, byWwid.BlkPath)
	assert.Equal(t, byPath.Wwid, byWwid.Wwid)
	assert.Equal(t, byPath.BlkType, byWwid.BlkType)
}

func TestResolver_PartitionWwidSuffix(t *testing.T) {
	ios := buildFixture(t)
	r := blkinfo.NewResolver(ios)

	bi, err := r.New("sda1", false)
	assert.NoError(t, err)
	assert.Equal(t, domain.BlkPartition, bi.BlkType)
	assert.Equal(t, "naa.111-part1", bi.Wwid)
	assert.Equal(t, "/dev/sda1", bi.BlkPath)
	assert.Len(t, bi.Owners, 1)
	assert.Equal(t, "naa.111", bi.Owners[0].Wwid)
}

func TestResolver_PreferredBlkPath(t *testing.T) {
	ios := buildFixture(t)

	write := func(path, content string) {
		n := ios.NewIOnode("", path, 0)
		if err := n.WriteFile([]byte(content)); err != nil {
			t.Fatalf("fixture write %s: %v", path, err)
		}
	}

	r := blkinfo.NewResolver(ios)

	// No by-id entries at all: falls back to the real path.
	assert.Equal(t, "/dev/sda", r.PreferredBlkPath("/dev/sda", ""))

	// A uuid already known short-circuits straight to by-uuid, without
	// even consulting by-id.
	assert.Equal(t, "/dev/disk/by-uuid/abcd-1234", r.PreferredBlkPath("/dev/sda", "abcd-1234"))

	// by-id has only a non-wwn entry: that's the fallback match.
	write("/dev/disk/by-id/scsi-111", "")
	assert.NoError(t, ios.Symlink("/dev/sda", "/dev/disk/by-id/scsi-111"))
	assert.Equal(t, "/dev/disk/by-id/scsi-111", r.PreferredBlkPath("/dev/sda", ""))

	// Once a wwn- entry also resolves to the same device, it wins over
	// the plain by-id entry found above.
	write("/dev/disk/by-id/wwn-naa.111", "")
	assert.NoError(t, ios.Symlink("/dev/sda", "/dev/disk/by-id/wwn-naa.111"))
	assert.Equal(t, "/dev/disk/by-id/wwn-naa.111", r.PreferredBlkPath("/dev/sda", ""))
}

func TestPrettifyWwid(t *testing.T) {
	got := blkinfo.PrettifyWwid("  naa.5000 \t abcd \x00\x00\x00")
	assert.Equal(t, "naa.5000-abcd", got)

	// Idempotence.
	assert.Equal(t, blkinfo.PrettifyWwid(got), got)
}
