// internal/cli/scrape.go
package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/order-archivers/harvest/internal/auth"
	"github.com/order-archivers/harvest/internal/browser"
	"github.com/order-archivers/harvest/internal/config"
	"github.com/order-archivers/harvest/internal/scrape"
	"github.com/order-archivers/harvest/internal/shops"
	"github.com/order-archivers/harvest/internal/ui"
)

// credentialSetter is implemented by adapters that take stored credentials
// for their automatic login flow.
type credentialSetter interface {
	SetCredentials(username, password string)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <shop>",
	Short: "Scrape a shop's order history into the local cache",
	Long: `Scrape drives the browser through the shop's order history and caches every
page, thumbnail and capture it produces. Re-running against a populated cache
performs no browser work for stages that are already complete.`,
	Example: `  # scrape everything, logging in manually when prompted
  harvest scrape demoshop --manual-login

  # re-check only two orders, ignoring the rest
  harvest scrape demoshop --allow 1001 --allow 1005

  # refresh from the cached order list without hitting the site
  harvest scrape demoshop --cached-list`,
	Args: cobra.ExactArgs(1),
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().Bool("force", false, "Re-scrape stages whose artifacts are already cached")
	scrapeCmd.Flags().Bool("cached-list", false, "Use the cached order list instead of visiting the site")
	scrapeCmd.Flags().StringSlice("allow", nil, "Only scrape these order ids (repeatable)")
	scrapeCmd.Flags().StringSlice("skip", nil, "Never scrape these order ids (repeatable)")
	scrapeCmd.Flags().Int("max", 0, "Stop after this many selected orders (0 = no limit)")
	scrapeCmd.Flags().Bool("keep-browser", false, "Leave the browser open after the run, for debugging")
	scrapeCmd.Flags().Bool("manual-login", false, "Log in by hand instead of using stored credentials")
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	a := GetApp()
	shopName := args[0]
	shopCfg := a.Config.Shop(shopName)
	applyScrapeFlags(cmd, &shopCfg)

	adapter, err := shops.Build(shopName, shopCfg)
	if err != nil {
		return err
	}

	store, err := a.Store(shopName)
	if err != nil {
		return fmt.Errorf("opening cache for %s: %w", shopName, err)
	}
	// Leftover scratch files would confuse waits for new downloads.
	if err := store.ClearTemp(); err != nil {
		return fmt.Errorf("clearing temp dir: %w", err)
	}

	session := a.Session(store, shopCfg)
	defer session.SafeQuit()

	detector := buildDetector(adapter, shopCfg)

	ctx := cmd.Context()
	if a.Config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.RunTimeout)
		defer cancel()
	}

	orch := &scrape.Orchestrator{
		Adapter:       adapter,
		Page:          session,
		Store:         store,
		Pacer:         a.Pacer,
		Login:         detector,
		Fetcher:       a.Fetcher,
		Force:         boolFlag(cmd, "force"),
		UseCachedList: shopCfg.UseCachedOrderList,
		Filter: scrape.Filter{
			Allow: shopCfg.OrderAllow,
			Skip:  shopCfg.OrderSkip,
			Max:   shopCfg.OrderMax,
		},
	}

	orders, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("scraping %s: %w", shopName, err)
	}
	fmt.Println(ui.Success(fmt.Sprintf("Scraped %d orders into %s", len(orders), store.Root())))
	return nil
}

// buildDetector wires the adapter's login and interrupt capabilities into
// the redirect detector, falling back to a manual operator login when the
// adapter has no automatic flow or the operator asked for one.
func buildDetector(adapter scrape.ShopAdapter, shopCfg config.ShopConfig) *browser.Detector {
	detector := &browser.Detector{
		LoginPattern:     adapter.LoginURLPattern(),
		Gate:             browser.StdinGate,
		ReturnAfterLogin: true,
	}

	loginCapable, hasAuto := adapter.(scrape.LoginCapable)
	if hasAuto && !shopCfg.ManualLogin {
		if setter, ok := adapter.(credentialSetter); ok {
			if creds, err := auth.Load(shopCfg.CredentialsKey); err == nil {
				setter.SetCredentials(creds.Username, creds.Password)
			} else {
				log.Debug().Err(err).Str("key", shopCfg.CredentialsKey).Msg("No stored credentials, login may need the operator")
			}
		}
		detector.Login = func(ctx context.Context, nav browser.Navigator, intended string) error {
			page, ok := nav.(scrape.Page)
			if !ok {
				return fmt.Errorf("navigator does not support form interaction")
			}
			return loginCapable.Login(ctx, page, intended)
		}
	} else {
		detector.Login = func(ctx context.Context, nav browser.Navigator, intended string) error {
			return browser.StdinGate(ctx, "Log in to the shop in the browser window, then press Enter")
		}
	}

	if interrupt, ok := adapter.(scrape.InterruptCapable); ok {
		detector.DismissInterrupts = func(ctx context.Context, nav browser.Navigator, current string) (bool, error) {
			page, ok := nav.(scrape.Page)
			if !ok {
				return true, nil
			}
			return interrupt.DismissInterrupts(ctx, page, current)
		}
	}
	return detector
}

func applyScrapeFlags(cmd *cobra.Command, shopCfg *config.ShopConfig) {
	if cmd.Flags().Changed("allow") {
		shopCfg.OrderAllow, _ = cmd.Flags().GetStringSlice("allow")
	}
	if cmd.Flags().Changed("skip") {
		shopCfg.OrderSkip, _ = cmd.Flags().GetStringSlice("skip")
	}
	if cmd.Flags().Changed("max") {
		shopCfg.OrderMax, _ = cmd.Flags().GetInt("max")
	}
	if boolFlag(cmd, "cached-list") {
		shopCfg.UseCachedOrderList = true
	}
	if boolFlag(cmd, "keep-browser") {
		shopCfg.KeepBrowser = true
	}
	if boolFlag(cmd, "manual-login") {
		shopCfg.ManualLogin = true
	}
}

func boolFlag(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}
