package imc_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestIMC(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
