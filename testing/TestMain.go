// Package testing puts the process into test mode when imported for side effects:
// binaries skip startup and LoadConfig finds its required variables.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

const testModeEnv = "ALCALDIA_TEST_MODE"

var defaults = map[string]string{
	"APP_ENV":     "test",
	"CSRF_SECRET": "test-csrf-secret",
	"LOG_FORMAT":  "json",
}

var once sync.Once

// Setup enables test mode and fills unset variables with test defaults.
func Setup() {
	once.Do(func() {
		_ = os.Setenv(testModeEnv, "1")
		for key, value := range defaults {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	Setup()
}

// Main runs a package's tests in test mode. Call it from TestMain.
func Main(m *stdtesting.M) {
	Setup()
	os.Exit(m.Run())
}
