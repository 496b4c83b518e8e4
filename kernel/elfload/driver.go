package elfload

import (
	"github.com/hypatia-hypervisor/hypatia/kernel/boot"
	"github.com/hypatia-hypervisor/hypatia/kernel/config"
	"github.com/hypatia-hypervisor/hypatia/kernel/elfload/archive"
	"github.com/hypatia-hypervisor/hypatia/kernel/kfmt"
)

// Every failure the driver loop observes from Load or archive.Parse is
// already fatal, so there are no per-cause sentinel values here: the driver
// wraps whatever it receives in a single *boot.Error and panics.

// Run drives the entire binary table: it parses the required "bin.a"
// archive module, then loads each entry in kernel/config.BinaryTable in
// order, reporting each image's name, kind and load address as it goes.
//
// Run is fatal-on-any-failure: any parse, allocation, or mapping error
// halts the loader via boot.Panic. It returns the per-image Result set so
// the caller (cmd/theon) can transfer control into the supervisor's entry
// point a second time once AP bring-up completes.
func Run(archiveBytes []byte) map[string]*Result {
	members, err := archive.Parse(archiveBytes)
	if err != nil {
		boot.Panic(&boot.Error{Module: "elfload", Message: err.Error()})
	}

	results := make(map[string]*Result, len(config.BinaryTable))

	for _, entry := range config.BinaryTable {
		member, ok := archive.Find(members, entry.Name)
		if !ok {
			boot.Panic(&boot.Error{Module: "elfload", Message: "missing archive member: " + entry.Name})
		}

		kfmt.Printf("elfload: loading %s (%s) at %x\n", entry.Name, entry.Kind.String(), uint64(entry.LoadHPA))

		res, err := Load(member.Data, entry)
		if err != nil {
			boot.Panic(&boot.Error{Module: "elfload", Message: err.Error()})
		}

		results[entry.Name] = res
	}

	return results
}
