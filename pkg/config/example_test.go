package config_test

import (
	"fmt"

	"github.com/ajitpratap0/orbit/pkg/config"
)

// ExampleDefault demonstrates the default configuration values.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Batch Size: %d\n", cfg.Engine.DefaultBatchSize)
	fmt.Printf("Call Timeout: %s\n", cfg.Engine.CallTimeout)
	fmt.Printf("Poll Interval: %s\n", cfg.Scheduler.PollInterval)
	fmt.Printf("Store: %s\n", cfg.Store.Driver)

	// Output:
	// Batch Size: 100
	// Call Timeout: 30s
	// Poll Interval: 1m0s
	// Store: memory
}

// ExampleConfig_Validate shows how a bad section is reported.
func ExampleConfig_Validate() {
	cfg := config.Default()
	cfg.Store.Driver = "postgres"

	if err := cfg.Validate(); err != nil {
		fmt.Println(err)
	}

	// Output:
	// store: postgres.dsn is required
}
