package main

import (
	"testing"

	apptesting "github.com/diazhh/alcaldia-saas/testing"
)

func TestMain(m *testing.M) {
	apptesting.Main(m)
}

func TestMainReturnsInTestMode(t *testing.T) {
	main()
}
