package store

import (
	"fmt"
	"syscall"

	"github.com/dtnx/bpd/cmn/cos"
)

// rootFsID statfs(2)s root and returns the backing filesystem's identity,
// used to detect root being re-pointed at a different filesystem across
// restarts (e.g. an unmounted/remounted store directory).
func rootFsID(root string) (cos.FsID, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(root, &stat); err != nil {
		return cos.FsID{}, fmt.Errorf("statfs %q: %w", root, err)
	}
	return cos.FsID{stat.Fsid.X__val[0], stat.Fsid.X__val[1]}, nil
}
