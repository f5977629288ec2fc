package config

import "github.com/spf13/cobra"

// RegisterFlags registers common CLI flags on the provided root command
func RegisterFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().Bool("json", false, "Log in JSON format")
	cmd.PersistentFlags().String("config", "", "Path to configuration file (optional)")
	cmd.PersistentFlags().String("cache-dir", DefaultCacheDir, "Base directory for per-shop scrape caches")
	cmd.PersistentFlags().String("output-dir", DefaultOutputDir, "Directory export bundles are written to")
	cmd.PersistentFlags().String("schema", "", "Path to a custom export schema (default: bundled)")
	cmd.PersistentFlags().String("user-agent", "", "Custom browser user agent string")
	cmd.PersistentFlags().String("proxy", "", "HTTP/SOCKS5 proxy for the browser (e.g. http://localhost:8080)")
	cmd.PersistentFlags().Bool("headless", DefaultHeadless, "Run the browser headless (manual login becomes impossible)")
}
