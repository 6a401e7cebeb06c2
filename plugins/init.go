// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/lappd/pkg/plugin"
	"firestige.xyz/lappd/plugins/reporter/console"
	"firestige.xyz/lappd/plugins/reporter/kafka"
)

func init() {
	// Register reporter plugins
	plugin.RegisterReporter(console.Name, console.NewConsoleReporter)
	plugin.RegisterReporter(kafka.Name, kafka.NewKafkaReporter)
}
