package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
)

const bannerWidth = 64

// PrintBanner displays the application startup banner and logs the
// equivalent structured startup event through arbor.
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()

	fmt.Printf("\n%s\n", border('='))
	printCentered("CRAWLERD")
	printCentered("Distributed Web-Crawling Control Plane")
	fmt.Printf("%s\n", border('-'))
	printKeyValue("Version", version)
	printKeyValue("Environment", config.Environment)
	printKeyValue("Storage", config.Storage.Badger.Path)
	printKeyValue("Queue", config.Queue.Name)
	fmt.Printf("%s\n\n", border('='))

	logger.Info().
		Str("version", version).
		Str("environment", config.Environment).
		Str("badger_path", config.Storage.Badger.Path).
		Str("queue", config.Queue.Name).
		Int("scheduler_batch_size", config.Scheduler.BatchSize).
		Int("browser_max_instances", config.Browser.MaxInstances).
		Msg("crawlerd starting")
}

// PrintShutdownBanner displays the application shutdown banner.
func PrintShutdownBanner(logger arbor.ILogger) {
	fmt.Printf("\n%s\n", border('='))
	printCentered("CRAWLERD SHUTTING DOWN")
	fmt.Printf("%s\n\n", border('='))
	logger.Info().Msg("crawlerd shutting down")
}

func border(c byte) string {
	b := make([]byte, bannerWidth)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

func printCentered(text string) {
	pad := (bannerWidth - len(text)) / 2
	if pad < 0 {
		pad = 0
	}
	fmt.Printf("%*s%s\n", pad, "", text)
}

func printKeyValue(key, value string) {
	fmt.Printf("  %-14s %s\n", key+":", value)
}

// PrintSuccess prints a success message and logs it.
func PrintSuccess(message string) {
	logger := GetLogger()
	fmt.Printf("✓ %s\n", message)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints an error message and logs it.
func PrintError(message string) {
	logger := GetLogger()
	fmt.Printf("✗ %s\n", message)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints a warning message and logs it.
func PrintWarning(message string) {
	logger := GetLogger()
	fmt.Printf("⚠ %s\n", message)
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints an info message and logs it.
func PrintInfo(message string) {
	logger := GetLogger()
	fmt.Printf("ℹ %s\n", message)
	logger.Info().Str("type", "info").Msg(message)
}
