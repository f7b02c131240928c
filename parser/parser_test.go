package parser_test

import (
	"io/ioutil"
	"testing"

	"github.com/cathay4t/peripetyd-go/blkinfo"
	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/cathay4t/peripetyd-go/parser"
	"github.com/cathay4t/peripetyd-go/sysio"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(ioutil.Discard)
	m.Run()
}

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
	symlink := func(oldname, newname string) {
		if err := ios.Symlink(oldname, newname); err != nil {
			t.Fatalf("fixture symlink %s -> %s: %v", newname, oldname, err)
		}
	}

	// sdc: a multipath path owning scsi disk, major:minor 8:16, holder dm-0.
	write("/sys/block/sdc/device/wwid", "naa.444")
	mkdir("/sys/block/sdc/holders/dm-0")
	symlink("/sys/block/sdc", "/sys/dev/block/8:16")

	// dm-0: the multipath map owning sdc.
	write("/sys/block/dm-0/dm/uuid", "mpath-naa.222")
	write("/sys/block/dm-0/dm/name", "mpatha")
	mkdir("/sys/block/dm-0/slaves/sdc")

	// dm-2: an ext4-mounted filesystem with a discoverable UUID.
	write("/sys/block/dm-2/dm/uuid", "LVM-abcd")
	write("/sys/block/dm-2/dm/name", "vg-lv")
	mkdir("/sys/block/dm-2/slaves/sdc")
	// ReadDir needs a real directory entry to enumerate; the symlink
	// side-table separately supplies what it resolves to.
	write("/dev/disk/by-uuid/ed3a1234", "")
	symlink("/dev/mapper/vg-lv", "/dev/disk/by-uuid/ed3a1234")
	write("/proc/self/mountinfo",
		"1 0 253:2 / /var/lib/data rw,relatime - ext4 /dev/mapper/vg-lv rw\n")

	// sdd: unmounted, no filesystem UUID registered anywhere.
	write("/sys/block/sdd/device/wwid", "naa.555")
	mkdir("/sys/block/sdd/holders")

	return ios
}

func TestMultipathStage_AttachesDmMapAndMajorMinor(t *testing.T) {
	ios := buildFixture(t)
	resolver := blkinfo.NewResolver(ios)
	stage := parser.NewMultipathStage(resolver)

	ev := domain.StorageEvent{
		Class:     domain.Raw,
		SubSystem: domain.SubSystemMultipath,
		EventType: "DM_MPATH_PATH_FAILED",
		RawMsg:    "device-mapper: multipath: Failing path 8:16.",
		Kdev:      "8:16",
	}

	out, ok, err := stage.Process(ev)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.BlkDmMultipath, out.BlkInfo.BlkType)
	assert.Equal(t, "naa.222", out.BlkInfo.Wwid)
	assert.Equal(t, "8:16", out.Extension["blk_major_minor"])
}

func TestScsiStage_PromotesSenseKey(t *testing.T) {
	ios := buildFixture(t)
	resolver := blkinfo.NewResolver(ios)
	stage := parser.NewScsiStage(resolver)

	ev := domain.StorageEvent{
		Class:     domain.Raw,
		SubSystem: domain.SubSystemScsi,
		EventType: "SCSI_SENSE_KEY",
		Kdev:      "sdc",
		Extension: map[string]string{"sense_key": "Medium Error"},
	}

	out, ok, err := stage.Process(ev)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SCSI_MEDIUM_ERROR", out.EventType)
	assert.Equal(t, domain.BlkScsi, out.BlkInfo.BlkType)
}

func TestScsiStage_DropsHostOnlyEvent(t *testing.T) {
	ios := buildFixture(t)
	resolver := blkinfo.NewResolver(ios)
	stage := parser.NewScsiStage(resolver)

	ev := domain.StorageEvent{
		Class:     domain.Raw,
		SubSystem: domain.SubSystemScsi,
		EventType: "SCSI_SENSE_KEY",
		Kdev:      "+scsi:host3",
	}

	_, ok, err := stage.Process(ev)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFilesystemStage_MountedExt4NormalizesDataMode(t *testing.T) {
	ios := buildFixture(t)
	resolver := blkinfo.NewResolver(ios)
	stage := parser.NewFilesystemStage(resolver)

	ev := domain.StorageEvent{
		Class:     domain.Raw,
		SubSystem: domain.SubSystemFsExt4,
		EventType: "FS_MOUNTED",
		RawMsg:    "EXT4-fs (dm-2): mounted filesystem with ordered data mode. Opts: (null)",
		Kdev:      "dm-2",
		Extension: map[string]string{"data_mode": " ordered data mode", "opts": "(null)"},
	}

	out, ok, err := stage.Process(ev)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ordered", out.Extension["data_mode"])
	assert.Equal(t, "ed3a1234", out.Extension["uuid"])
	assert.NotEmpty(t, out.Msg)
}

func TestFilesystemStage_DropsWhenNoUuid(t *testing.T) {
	ios := buildFixture(t)
	resolver := blkinfo.NewResolver(ios)
	stage := parser.NewFilesystemStage(resolver)

	ev := domain.StorageEvent{
		Class:     domain.Raw,
		SubSystem: domain.SubSystemFsXfs,
		EventType: "FS_IO_ERROR",
		RawMsg:    "XFS (sdd1): writeback error on sector 123456",
		Kdev:      "sdd",
	}

	_, ok, err := stage.Process(ev)
	assert.NoError(t, err)
	assert.False(t, ok)
}
