package cl_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestCL(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
