package imc_test

import (
	"os"
	"path/filepath"

	"github.com/dtnx/bpd/imc"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store reconciliation", func() {
	var dbPath string

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "imc-store-*")
		Expect(err).NotTo(HaveOccurred())
		dbPath = filepath.Join(dir, "imc.db")
	})

	It("clears the database only when the configured marker ID changes", func() {
		s, err := imc.OpenStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		cleared := 0
		clear := func() { cleared++ }

		Expect(s.ReconcileClear("region", "gen-1", clear)).To(Succeed())
		Expect(cleared).To(Equal(1))

		Expect(s.ReconcileClear("region", "gen-1", clear)).To(Succeed())
		Expect(cleared).To(Equal(1), "same marker must not re-clear")

		Expect(s.ReconcileClear("region", "gen-2", clear)).To(Succeed())
		Expect(cleared).To(Equal(2))
	})

	It("persists dirty region and group records", func() {
		s, err := imc.OpenStore(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()

		rdb := imc.NewRegionDB()
		rdb.AddNodeRangeToRegion(1, true, 10, 10)
		gdb := imc.NewGroupDB()
		gdb.AddNodeRangeToGroup(5, 20, 20)

		Expect(s.PersistDirty(rdb, gdb)).To(Succeed())
		// A second pass has nothing left dirty but must not error.
		Expect(s.PersistDirty(rdb, gdb)).To(Succeed())
	})
})
