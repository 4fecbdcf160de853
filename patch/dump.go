package patch

import (
	"os"
	"path/filepath"
	"strings"
)

// DumpToDir returns a DumpFunc that writes the baseline and patched trees of
// each file into dir as <name>.before.xml and <name>.after.xml, where name
// is the patched file's path with separators replaced by underscores.
// Write errors are reported to onError when it is non-nil.
func DumpToDir(dir string, onError func(error)) DumpFunc {
	report := func(err error) {
		if err != nil && onError != nil {
			onError(err)
		}
	}
	return func(file string, before, after *Node) {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			report(err)
			return
		}
		base := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(file)
		report(writeXML(filepath.Join(dir, base+".before.xml"), before))
		report(writeXML(filepath.Join(dir, base+".after.xml"), after))
	}
}

func writeXML(name string, n *Node) error {
	data, err := EncodeXML(n)
	if err != nil {
		return err
	}
	return os.WriteFile(name, data, 0o600)
}
