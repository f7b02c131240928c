package collector_test

import (
	"testing"

	"github.com/cathay4t/peripetyd-go/collector"
	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/stretchr/testify/assert"
)

func TestBuiltinCatalog_EachEntryHasKdevCapture(t *testing.T) {
	for _, rc := range collector.BuiltinCatalog() {
		hasKdev := false
		for _, name := range rc.Regexp.SubexpNames() {
			if name == "kdev" {
				hasKdev = true
			}
		}
		assert.True(t, hasKdev, "entry %s/%s has no kdev capture", rc.SubSystem, rc.EventType)
	}
}

func TestBuiltinCatalog_ScsiSenseKey(t *testing.T) {
	catalog := collector.BuiltinCatalog()

	var found bool
	for _, rc := range catalog {
		caps, ok := rc.Matches("sd 4:0:0:1: [sdc] tag#0 Sense Key : Medium Error [current]")
		if !ok {
			continue
		}
		assert.Equal(t, "SCSI_SENSE_KEY", rc.EventType)
		assert.Equal(t, "sdc", caps["kdev"])
		assert.Equal(t, "Medium Error", caps["sense_key"])
		assert.Equal(t, "current", caps["is_deferred"])
		found = true
		break
	}
	assert.True(t, found)
}

func TestBuiltinCatalog_Ext4Mounted(t *testing.T) {
	catalog := collector.BuiltinCatalog()

	for _, rc := range catalog {
		caps, ok := rc.Matches("EXT4-fs (dm-2): mounted filesystem with ordered data mode. Opts: (null)")
		if !ok {
			continue
		}
		assert.Equal(t, domain.SubSystemFsExt4, rc.SubSystem)
		assert.Equal(t, "FS_MOUNTED", rc.EventType)
		assert.Equal(t, "dm-2", caps["kdev"])
		assert.Contains(t, caps["data_mode"], "ordered")
		assert.Equal(t, "(null)", caps["opts"])
		return
	}
	t.Fatal("no catalog entry matched the ext4 mount line")
}

func TestCompileUserEntry_RejectsMissingKdevCapture(t *testing.T) {
	_, err := collector.CompileUserEntry("", `^no named groups here$`, "Scsi", "CUSTOM")
	assert.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ConfError))
}

func TestCompileUserEntry_RejectsUnknownSubSystem(t *testing.T) {
	_, err := collector.CompileUserEntry("", `(?P<kdev>.+)`, "NotARealSubSystem", "CUSTOM")
	assert.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ConfError))
}

func TestCompileUserEntry_Valid(t *testing.T) {
	rc, err := collector.CompileUserEntry("foo:", `^foo: (?P<kdev>\S+) bar$`, "Scsi", "CUSTOM_EVENT")
	assert.NoError(t, err)
	caps, ok := rc.Matches("foo: sda bar")
	assert.True(t, ok)
	assert.Equal(t, "sda", caps["kdev"])
}
